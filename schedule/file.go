package schedule

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// ScheduleFileName is the Witty Pi schedule script edited from the UI.
const ScheduleFileName = "schedule.wpi"

// MaxScheduleSize caps what the UI may write to schedule.wpi.
const MaxScheduleSize = 64 << 10

const emptySchedule = "# schedule.wpi (create/save)\n"

// SchedulePath returns the first existing schedule.wpi among dirs, falling
// back to the first candidate directory.
func SchedulePath(dirs []string) string {
	if p := findExisting(dirs, ScheduleFileName); p != "" {
		return p
	}
	if len(dirs) == 0 {
		return ""
	}
	return filepath.Join(dirs[0], ScheduleFileName)
}

// ReadScheduleFile returns the schedule text, or a placeholder comment when
// the file does not exist yet.
func ReadScheduleFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("no witty pi directory configured")
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return emptySchedule, nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(b), nil
}

// WriteScheduleFile atomically replaces the schedule file, creating its
// directory when needed.
func WriteScheduleFile(path, content string) error {
	if path == "" {
		return errors.New("no witty pi directory configured")
	}
	if len(content) > MaxScheduleSize {
		return fmt.Errorf("schedule too large: %d bytes (max %d)", len(content), MaxScheduleSize)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create schedule dir: %w", err)
	}
	if err := renameio.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
