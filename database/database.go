package database

import (
	"time"
)

// RecordingStatus represents the lifecycle state of a recording file
type RecordingStatus string

const (
	StatusRecording RecordingStatus = "recording" // Session is writing the file
	StatusReady     RecordingStatus = "ready"     // File is closed and post-processed
	StatusFailed    RecordingStatus = "failed"    // Session aborted before producing a usable file
	StatusDeleted   RecordingStatus = "deleted"   // File was removed from disk
)

// Recording is the history row kept for every recording session
type Recording struct {
	ID           string          `json:"id"`                     // Session ID
	FileName     string          `json:"fileName"`               // Base name inside the recordings directory
	LocalPath    string          `json:"localPath"`              // Absolute path of the current artifact
	Mode         string          `json:"mode"`                   // Session mode that produced the file
	Status       RecordingStatus `json:"status"`                 // Current status
	StartedAt    time.Time       `json:"startedAt"`              // When the session began writing
	StopTarget   time.Time       `json:"stopTarget"`             // Deadline the session was started with
	FinishedAt   *time.Time      `json:"finishedAt,omitempty"`   // When the camera was released (nil while recording)
	Size         int64           `json:"size"`                   // Size in bytes after finishing
	ErrorMessage string          `json:"errorMessage,omitempty"` // Error message if the session failed
	RemoteURL    string          `json:"remoteUrl,omitempty"`    // URL after cloud upload
}

// Database defines the interface for recording history operations
type Database interface {
	CreateRecording(rec Recording) error
	FinishRecording(id string, status RecordingStatus, size int64, errorMsg string) error
	UpdateRecordingPath(id, localPath string) error
	SetRemoteURL(id, url string) error

	GetRecording(id string) (*Recording, error)
	GetRecordingByFileName(fileName string) (*Recording, error)
	ListRecordings(limit, offset int) ([]Recording, error)
	GetRecordingsByStatus(status RecordingStatus, limit, offset int) ([]Recording, error)

	MarkDeleted(id string) error
	Close() error
}
