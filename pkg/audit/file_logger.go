package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const currentFile = "audit.log"

// FileLogger appends audit events as JSON lines and rotates by size
type FileLogger struct {
	dir      string
	maxSize  int64
	maxFiles int
	now      func() time.Time

	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// FileLoggerConfig configures the file logger
type FileLoggerConfig struct {
	Dir      string
	MaxSize  int64 // bytes before rotation, default 50MB
	MaxFiles int   // rotated files kept, default 10
}

// NewFileLogger opens (or creates) <Dir>/audit.log
func NewFileLogger(cfg FileLoggerConfig) (*FileLogger, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("audit log directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	l := &FileLogger{
		dir:      cfg.Dir,
		maxSize:  cfg.MaxSize,
		maxFiles: cfg.MaxFiles,
		now:      time.Now,
	}
	if l.maxSize <= 0 {
		l.maxSize = 50 * 1024 * 1024
	}
	if l.maxFiles <= 0 {
		l.maxFiles = 10
	}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *FileLogger) open() error {
	f, err := os.OpenFile(filepath.Join(l.dir, currentFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	l.file = f
	l.encoder = json.NewEncoder(f)
	return nil
}

// rotate renames the current file with a timestamp and opens a fresh one
func (l *FileLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	rotated := filepath.Join(l.dir, fmt.Sprintf("audit-%s.log", l.now().UTC().Format("20060102T150405.000000000")))
	if err := os.Rename(filepath.Join(l.dir, currentFile), rotated); err != nil {
		return fmt.Errorf("failed to rename audit log: %w", err)
	}
	l.prune()
	return l.open()
}

// prune keeps the newest maxFiles rotated files. Names sort chronologically.
func (l *FileLogger) prune() {
	files, err := filepath.Glob(filepath.Join(l.dir, "audit-*.log"))
	if err != nil || len(files) <= l.maxFiles {
		return
	}
	sort.Strings(files)
	for _, f := range files[:len(files)-l.maxFiles] {
		if err := os.Remove(f); err != nil {
			logrus.WithError(err).WithField("file", f).Warn("failed to remove old audit log")
		}
	}
}

// Log appends event to the current file
func (l *FileLogger) Log(ctx context.Context, event *Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("audit file logger is closed")
	}
	if info, err := l.file.Stat(); err == nil && info.Size() >= l.maxSize {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("failed to rotate audit log: %w", err)
		}
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = l.now().UTC()
	}
	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// Close closes the current file
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
