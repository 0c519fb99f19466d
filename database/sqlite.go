package database

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"pict-recorder/logging"
)

// SQLiteDB implements the Database interface using SQLite
type SQLiteDB struct {
	db *sql.DB
}

var _ Database = (*SQLiteDB)(nil)

// NewSQLiteDB creates a new SQLite database instance
func NewSQLiteDB(dbPath string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// Writers come from the session task, the post-processor and cron jobs.
	db.SetMaxOpenConns(1)

	if err := initTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

// initTables creates the necessary tables if they don't exist
func initTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS recordings (
			id TEXT PRIMARY KEY,
			file_name TEXT NOT NULL,
			local_path TEXT NOT NULL,
			mode TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			stop_target TIMESTAMP NOT NULL,
			finished_at TIMESTAMP,
			size INTEGER DEFAULT 0,
			error_message TEXT
		)
	`)
	if err != nil {
		return err
	}

	// remote_url was added after the first field deployments
	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('recordings') WHERE name='remote_url'`).Scan(&count)
	if err != nil {
		return err
	}
	if count == 0 {
		if _, err := db.Exec(`ALTER TABLE recordings ADD COLUMN remote_url TEXT`); err != nil {
			return err
		}
		logger := logging.WithComponent("database")
		logger.Info().Msg("Added remote_url column to recordings table")
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_recordings_file_name ON recordings(file_name)`)
	return err
}

const recordingColumns = `id, file_name, local_path, mode, status, started_at, stop_target,
	finished_at, size, error_message, remote_url`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecording(row rowScanner) (Recording, error) {
	var rec Recording
	var finishedAt sql.NullTime
	var errorMessage, remoteURL sql.NullString

	err := row.Scan(
		&rec.ID,
		&rec.FileName,
		&rec.LocalPath,
		&rec.Mode,
		&rec.Status,
		&rec.StartedAt,
		&rec.StopTarget,
		&finishedAt,
		&rec.Size,
		&errorMessage,
		&remoteURL,
	)
	if err != nil {
		return rec, err
	}

	if finishedAt.Valid {
		rec.FinishedAt = &finishedAt.Time
	}
	rec.ErrorMessage = errorMessage.String
	rec.RemoteURL = remoteURL.String
	return rec, nil
}

// CreateRecording inserts a new history row
func (s *SQLiteDB) CreateRecording(rec Recording) error {
	if rec.FileName == "" {
		rec.FileName = filepath.Base(rec.LocalPath)
	}
	if rec.Status == "" {
		rec.Status = StatusRecording
	}
	_, err := s.db.Exec(`
		INSERT INTO recordings (`+recordingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.FileName,
		rec.LocalPath,
		rec.Mode,
		rec.Status,
		rec.StartedAt,
		rec.StopTarget,
		rec.FinishedAt,
		rec.Size,
		rec.ErrorMessage,
		rec.RemoteURL,
	)
	if err != nil {
		return fmt.Errorf("failed to create recording: %w", err)
	}
	return nil
}

// FinishRecording stamps the finish time, final status and size
func (s *SQLiteDB) FinishRecording(id string, status RecordingStatus, size int64, errorMsg string) error {
	res, err := s.db.Exec(`
		UPDATE recordings
		SET status = ?, size = ?, error_message = ?, finished_at = ?
		WHERE id = ?
	`, status, size, errorMsg, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to finish recording: %w", err)
	}
	return requireRow(res, id)
}

// UpdateRecordingPath points the row at a new artifact, e.g. after the mp4 wrap
func (s *SQLiteDB) UpdateRecordingPath(id, localPath string) error {
	res, err := s.db.Exec(`
		UPDATE recordings SET local_path = ?, file_name = ? WHERE id = ?
	`, localPath, filepath.Base(localPath), id)
	if err != nil {
		return fmt.Errorf("failed to update recording path: %w", err)
	}
	return requireRow(res, id)
}

// SetRemoteURL records where the artifact was uploaded
func (s *SQLiteDB) SetRemoteURL(id, url string) error {
	res, err := s.db.Exec(`UPDATE recordings SET remote_url = ? WHERE id = ?`, url, id)
	if err != nil {
		return fmt.Errorf("failed to set remote url: %w", err)
	}
	return requireRow(res, id)
}

// GetRecording returns nil, nil when id is unknown
func (s *SQLiteDB) GetRecording(id string) (*Recording, error) {
	row := s.db.QueryRow(`SELECT `+recordingColumns+` FROM recordings WHERE id = ?`, id)
	rec, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recording: %w", err)
	}
	return &rec, nil
}

// GetRecordingByFileName returns the newest row for fileName, or nil, nil
func (s *SQLiteDB) GetRecordingByFileName(fileName string) (*Recording, error) {
	row := s.db.QueryRow(`
		SELECT `+recordingColumns+` FROM recordings
		WHERE file_name = ?
		ORDER BY started_at DESC
		LIMIT 1
	`, fileName)
	rec, err := scanRecording(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recording by file name: %w", err)
	}
	return &rec, nil
}

// ListRecordings lists history rows, newest first
func (s *SQLiteDB) ListRecordings(limit, offset int) ([]Recording, error) {
	rows, err := s.db.Query(`
		SELECT `+recordingColumns+` FROM recordings
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	return collect(rows)
}

// GetRecordingsByStatus lists rows with the given status, newest first
func (s *SQLiteDB) GetRecordingsByStatus(status RecordingStatus, limit, offset int) ([]Recording, error) {
	rows, err := s.db.Query(`
		SELECT `+recordingColumns+` FROM recordings
		WHERE status = ?
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get recordings by status: %w", err)
	}
	return collect(rows)
}

// MarkDeleted flags a row whose file has been removed
func (s *SQLiteDB) MarkDeleted(id string) error {
	res, err := s.db.Exec(`UPDATE recordings SET status = ? WHERE id = ?`, StatusDeleted, id)
	if err != nil {
		return fmt.Errorf("failed to mark recording deleted: %w", err)
	}
	return requireRow(res, id)
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

func collect(rows *sql.Rows) ([]Recording, error) {
	defer rows.Close()

	var out []Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recording row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error after scanning rows: %w", err)
	}
	return out, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("recording %s not found", id)
	}
	return nil
}
