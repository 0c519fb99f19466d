package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *SQLiteDB {
	t.Helper()
	db, err := NewSQLiteDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create SQLite database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestSQLiteDB tests the recording history lifecycle
func TestSQLiteDB(t *testing.T) {
	db := newTestDB(t)

	testCreateAndGetRecording(t, db)
	testFinishAndRename(t, db)
	testListAndStatus(t, db)
	testMarkDeleted(t, db)
}

func testCreateAndGetRecording(t *testing.T, db *SQLiteDB) {
	start := time.Date(2025, 3, 20, 11, 58, 0, 0, time.UTC)
	rec := Recording{
		ID:         "session-1",
		LocalPath:  "/home/pi/recordings/pict01_20250320_115800.h264",
		Mode:       "recording_duration",
		StartedAt:  start,
		StopTarget: start.Add(5 * time.Second),
	}
	if err := db.CreateRecording(rec); err != nil {
		t.Fatalf("Failed to create recording: %v", err)
	}

	got, err := db.GetRecording("session-1")
	if err != nil {
		t.Fatalf("Failed to get recording: %v", err)
	}
	if got == nil {
		t.Fatal("Recording not found")
	}
	if got.FileName != "pict01_20250320_115800.h264" {
		t.Errorf("FileName = %q", got.FileName)
	}
	if got.Status != StatusRecording {
		t.Errorf("Status = %q, want %q", got.Status, StatusRecording)
	}
	if got.FinishedAt != nil {
		t.Error("FinishedAt should be nil while recording")
	}
	if !got.StopTarget.Equal(start.Add(5 * time.Second)) {
		t.Errorf("StopTarget = %v", got.StopTarget)
	}

	missing, err := db.GetRecording("nope")
	if err != nil || missing != nil {
		t.Errorf("GetRecording(nope) = %v, %v; want nil, nil", missing, err)
	}
}

func testFinishAndRename(t *testing.T, db *SQLiteDB) {
	if err := db.FinishRecording("session-1", StatusReady, 4096, ""); err != nil {
		t.Fatalf("Failed to finish recording: %v", err)
	}
	mp4 := "/home/pi/recordings/pict01_20250320_115800.mp4"
	if err := db.UpdateRecordingPath("session-1", mp4); err != nil {
		t.Fatalf("Failed to update path: %v", err)
	}
	if err := db.SetRemoteURL("session-1", "https://media.example.com/pict01_20250320_115800.mp4"); err != nil {
		t.Fatalf("Failed to set remote url: %v", err)
	}

	got, err := db.GetRecordingByFileName("pict01_20250320_115800.mp4")
	if err != nil || got == nil {
		t.Fatalf("GetRecordingByFileName = %v, %v", got, err)
	}
	if got.Status != StatusReady || got.Size != 4096 || got.FinishedAt == nil {
		t.Errorf("unexpected finished row: %+v", got)
	}
	if got.LocalPath != mp4 || got.RemoteURL == "" {
		t.Errorf("path/url not updated: %+v", got)
	}

	if err := db.FinishRecording("unknown", StatusReady, 0, ""); err == nil {
		t.Error("expected error finishing unknown recording")
	}
}

func testListAndStatus(t *testing.T, db *SQLiteDB) {
	start := time.Date(2025, 3, 20, 13, 0, 0, 0, time.UTC)
	failed := Recording{
		ID:         "session-2",
		LocalPath:  "/home/pi/recordings/pict01_20250320_130000.h264",
		Mode:       "recording_schedule",
		StartedAt:  start,
		StopTarget: start.Add(time.Hour),
	}
	if err := db.CreateRecording(failed); err != nil {
		t.Fatalf("Failed to create recording: %v", err)
	}
	if err := db.FinishRecording("session-2", StatusFailed, 0, "cannot open camera"); err != nil {
		t.Fatalf("Failed to finish recording: %v", err)
	}

	all, err := db.ListRecordings(10, 0)
	if err != nil {
		t.Fatalf("Failed to list recordings: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("Expected 2 recordings, got %d", len(all))
	}
	if all[0].ID != "session-2" {
		t.Errorf("Expected newest first, got %s", all[0].ID)
	}
	if all[0].ErrorMessage != "cannot open camera" {
		t.Errorf("ErrorMessage = %q", all[0].ErrorMessage)
	}

	ready, err := db.GetRecordingsByStatus(StatusReady, 10, 0)
	if err != nil {
		t.Fatalf("Failed to get by status: %v", err)
	}
	if len(ready) != 1 || ready[0].ID != "session-1" {
		t.Errorf("ready = %+v", ready)
	}

	page, err := db.ListRecordings(1, 1)
	if err != nil || len(page) != 1 || page[0].ID != "session-1" {
		t.Errorf("paged list = %+v, %v", page, err)
	}
}

func testMarkDeleted(t *testing.T, db *SQLiteDB) {
	if err := db.MarkDeleted("session-1"); err != nil {
		t.Fatalf("Failed to mark deleted: %v", err)
	}
	got, _ := db.GetRecording("session-1")
	if got == nil || got.Status != StatusDeleted {
		t.Errorf("Expected deleted status, got %+v", got)
	}
}

func TestReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	db, err := NewSQLiteDB(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	now := time.Now()
	if err := db.CreateRecording(Recording{ID: "a", LocalPath: "/r/a.h264", Mode: "recording_duration", StartedAt: now, StopTarget: now}); err != nil {
		t.Fatalf("create: %v", err)
	}
	db.Close()

	db, err = NewSQLiteDB(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	got, err := db.GetRecording("a")
	if err != nil || got == nil {
		t.Fatalf("row lost after reopen: %v, %v", got, err)
	}
}

func TestMigrationAddsRemoteURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	raw, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	if _, err := raw.Exec(`CREATE TABLE recordings (
		id TEXT PRIMARY KEY, file_name TEXT NOT NULL, local_path TEXT NOT NULL,
		mode TEXT NOT NULL, status TEXT NOT NULL, started_at TIMESTAMP NOT NULL,
		stop_target TIMESTAMP NOT NULL, finished_at TIMESTAMP, size INTEGER DEFAULT 0,
		error_message TEXT)`); err != nil {
		t.Fatalf("create old schema: %v", err)
	}
	raw.Close()

	db, err := NewSQLiteDB(path)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	defer db.Close()

	now := time.Now()
	if err := db.CreateRecording(Recording{ID: "m", LocalPath: "/r/m.mp4", Mode: "recording_schedule", StartedAt: now, StopTarget: now}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := db.SetRemoteURL("m", "https://media.example.com/m.mp4"); err != nil {
		t.Fatalf("set url: %v", err)
	}
	got, err := db.GetRecording("m")
	if err != nil || got == nil || got.RemoteURL != "https://media.example.com/m.mp4" {
		t.Fatalf("remote url not stored after migration: %+v, %v", got, err)
	}
}
