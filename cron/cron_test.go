package cron

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pict-recorder/database"
)

func TestReconcileMarksMissingFiles(t *testing.T) {
	dir := t.TempDir()
	db, err := database.NewSQLiteDB(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	defer db.Close()

	present := filepath.Join(dir, "pict01_20250320_115800.mp4")
	require.NoError(t, os.WriteFile(present, []byte("x"), 0644))
	now := time.Now()
	for id, path := range map[string]string{"present": present, "gone": filepath.Join(dir, "gone.mp4")} {
		require.NoError(t, db.CreateRecording(database.Recording{ID: id, LocalPath: path, Mode: "recording_duration", StartedAt: now, StopTarget: now}))
		require.NoError(t, db.FinishRecording(id, database.StatusReady, 1, ""))
	}

	r := NewReconcileCron("0 */10 * * * *", db, zerolog.Nop())
	assert.Equal(t, 1, r.Reconcile())
	assert.Equal(t, 0, r.Reconcile())

	gone, _ := db.GetRecording("gone")
	assert.Equal(t, database.StatusDeleted, gone.Status)
	kept, _ := db.GetRecording("present")
	assert.Equal(t, database.StatusReady, kept.Status)
}

func TestReconcileStartStops(t *testing.T) {
	db, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer db.Close()

	r := NewReconcileCron("0 */10 * * * *", db, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()
	cancel()
	require.NoError(t, <-done)
}

func TestResourceCronSchedules(t *testing.T) {
	r, err := NewResourceCron("*/1 * * * * *", t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()
	require.Eventually(t, func() bool { return len(r.Entries()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestResourceCronBadSchedule(t *testing.T) {
	r, err := NewResourceCron("not a schedule", t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	assert.Error(t, r.Start(context.Background()))
}
