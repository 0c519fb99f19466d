package api

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"pict-recorder/database"
)

// RecordingFile is one entry of the recordings directory.
type RecordingFile struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	SizeHuman  string    `json:"sizeHuman"`
	ModifiedAt time.Time `json:"modifiedAt"`
	RemoteURL  string    `json:"remoteUrl,omitempty"`
}

var errBadName = errors.New("invalid file name")

// resolveRecording maps a client supplied name to a path directly inside the
// recordings directory.
func (s *Server) resolveRecording(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", errBadName
	}
	base, err := filepath.Abs(s.config.RecordingsDir)
	if err != nil {
		return "", err
	}
	target := filepath.Join(base, name)
	rel, err := filepath.Rel(base, target)
	if err != nil || rel != name {
		return "", errBadName
	}
	return target, nil
}

// listDir returns regular files newest first.
func listDir(dir string) ([]RecordingFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	files := make([]RecordingFile, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, RecordingFile{
			Name:       e.Name(),
			Size:       info.Size(),
			SizeHuman:  formatBytes(info.Size()),
			ModifiedAt: info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ModifiedAt.After(files[j].ModifiedAt) })
	return files, nil
}

func (s *Server) listRecordings(c *gin.Context) {
	files, err := listDir(s.config.RecordingsDir)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if s.db != nil {
		for i := range files {
			rec, err := s.db.GetRecordingByFileName(files[i].Name)
			if err == nil && rec != nil {
				files[i].RemoteURL = rec.RemoteURL
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"recordings": files, "count": len(files)})
}

func (s *Server) downloadRecording(c *gin.Context) {
	target, err := s.resolveRecording(c.Param("name"))
	if err != nil {
		c.String(http.StatusNotFound, "File not found")
		return
	}
	info, err := os.Stat(target)
	if err != nil || !info.Mode().IsRegular() {
		c.String(http.StatusNotFound, "File not found")
		return
	}
	c.FileAttachment(target, filepath.Base(target))
}

func (s *Server) deleteRecording(c *gin.Context) {
	name := c.Param("name")
	target, err := s.resolveRecording(name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}
	if err := os.Remove(target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Delete failed: " + err.Error()})
		return
	}
	s.logger.Info().Str("file", name).Msg("Recording deleted")

	if s.db != nil {
		s.markDeleted(name)
	}
	c.JSON(http.StatusOK, gin.H{"deleted": name})
}

func (s *Server) markDeleted(name string) {
	rec, err := s.db.GetRecordingByFileName(name)
	if err != nil || rec == nil {
		return
	}
	if rec.Status == database.StatusDeleted {
		return
	}
	if err := s.db.MarkDeleted(rec.ID); err != nil {
		s.logger.Warn().Err(err).Str("file", name).Msg("history update failed")
	}
}
