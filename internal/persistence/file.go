package persistence

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// FileStore implements SnapshotStore on a single JSON file.
type FileStore struct {
	path   string
	logger *logrus.Logger
}

// NewFileStore creates a store writing to path. The parent directory is
// created on first save.
func NewFileStore(path string, logger *logrus.Logger) *FileStore {
	return &FileStore{path: path, logger: logger}
}

// Path returns the snapshot file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the snapshot. Any failure yields a zeroed snapshot and
// ok=false; a missing file is created with zero baselines.
func (s *FileStore) Load() (Snapshot, bool) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.WithField("path", s.path).Info("No snapshot found, starting with empty baselines")
		if err := s.Save(Snapshot{}, time.Now()); err != nil {
			s.logger.WithError(err).Warn("Failed to create empty snapshot")
		}
		return Snapshot{}, false
	}
	if err != nil {
		s.logger.WithError(err).WithField("path", s.path).Warn("Failed to read snapshot, using empty baselines")
		return Snapshot{}, false
	}

	var snap Snapshot
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&snap); err != nil {
		s.logger.WithError(err).WithField("path", s.path).Warn("Malformed snapshot, using empty baselines")
		return Snapshot{}, false
	}
	if !snap.valid() {
		s.logger.WithField("path", s.path).Warn("Snapshot holds negative baselines, using empty baselines")
		return Snapshot{}, false
	}

	return snap, true
}

// Save writes the snapshot atomically: temporary file, fsync, rename,
// then fsync of the parent directory.
func (s *FileStore) Save(snap Snapshot, now time.Time) error {
	snap.FileDate = now.Format(FileDateLayout)

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	file, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary snapshot: %w", err)
	}
	temporaryPath := file.Name()

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("failed to write temporary snapshot: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("failed to sync temporary snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("failed to close temporary snapshot: %w", err)
	}

	if err := os.Rename(temporaryPath, s.path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("failed to rename snapshot into place: %w", err)
	}

	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}

	s.logger.WithFields(logrus.Fields{
		"path":      s.path,
		"file_date": snap.FileDate,
	}).Debug("Snapshot saved")

	return nil
}
