package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/lightbox/pkg/gallery"
	"github.com/platinummonkey/lightbox/pkg/media"
)

const (
	processedDir = "processed"
	failedDir    = "failed"
)

// Uploader stores one original in the gallery
type Uploader interface {
	Upload(ctx context.Context, req media.UploadRequest) (*gallery.Photo, error)
}

// Config configures an Importer
type Config struct {
	InboxDir    string
	AlbumID     int64
	UploaderID  int64
	SettleDelay time.Duration
}

type pendingFile struct {
	size     int64
	modTime  time.Time
	stableAt time.Time
}

// Importer watches an inbox directory and uploads each supported media file
// once its size stops changing. Imported files move to processed/, rejected
// ones to failed/ next to a .error file with the reason.
type Importer struct {
	cfg      Config
	uploader Uploader
	log      *logrus.Entry
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]*pendingFile
}

// New prepares the inbox and its processed/ and failed/ subdirectories
func New(cfg Config, uploader Uploader) (*Importer, error) {
	if cfg.InboxDir == "" {
		return nil, errors.New("inbox directory is required")
	}
	if cfg.AlbumID == 0 {
		return nil, errors.New("target album is required")
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 2 * time.Second
	}
	for _, dir := range []string{cfg.InboxDir, filepath.Join(cfg.InboxDir, processedDir), filepath.Join(cfg.InboxDir, failedDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return &Importer{
		cfg:      cfg,
		uploader: uploader,
		log:      logrus.WithFields(logrus.Fields{"component": "importer", "inbox": cfg.InboxDir}),
		now:      time.Now,
		pending:  make(map[string]*pendingFile),
	}, nil
}

// Run watches the inbox until ctx is cancelled. Files already present when
// it starts are imported too.
func (im *Importer) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(im.cfg.InboxDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", im.cfg.InboxDir, err)
	}
	if err := im.Scan(); err != nil {
		return err
	}

	interval := im.cfg.SettleDelay / 2
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	im.log.WithField("album_id", im.cfg.AlbumID).Info("watching inbox")
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Chmod) != 0 {
				im.Track(event.Name)
			}
			if event.Op&fsnotify.Remove != 0 {
				im.forget(event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			im.log.WithError(err).Warn("watcher error")
		case <-ticker.C:
			im.Flush(ctx)
		}
	}
}

// Scan tracks every candidate file currently in the inbox
func (im *Importer) Scan() error {
	entries, err := os.ReadDir(im.cfg.InboxDir)
	if err != nil {
		return fmt.Errorf("failed to read inbox: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			im.Track(filepath.Join(im.cfg.InboxDir, entry.Name()))
		}
	}
	return nil
}

// Track notes a file that may be ready for import. Each call with a changed
// size or modification time restarts its settle delay.
func (im *Importer) Track(path string) {
	if filepath.Dir(path) != filepath.Clean(im.cfg.InboxDir) || !candidate(filepath.Base(path)) {
		return
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}

	im.mu.Lock()
	defer im.mu.Unlock()
	p, ok := im.pending[path]
	if !ok {
		im.pending[path] = &pendingFile{size: info.Size(), modTime: info.ModTime(), stableAt: im.now()}
		return
	}
	if p.size != info.Size() || !p.modTime.Equal(info.ModTime()) {
		p.size, p.modTime, p.stableAt = info.Size(), info.ModTime(), im.now()
	}
}

func (im *Importer) forget(path string) {
	im.mu.Lock()
	delete(im.pending, path)
	im.mu.Unlock()
}

// Flush imports tracked files whose size has been stable for the settle
// delay and returns how many were imported.
func (im *Importer) Flush(ctx context.Context) int {
	var ready []string
	now := im.now()

	im.mu.Lock()
	for path, p := range im.pending {
		info, err := os.Stat(path)
		if err != nil {
			delete(im.pending, path)
			continue
		}
		if info.Size() != p.size || !info.ModTime().Equal(p.modTime) {
			p.size, p.modTime, p.stableAt = info.Size(), info.ModTime(), now
			continue
		}
		if now.Sub(p.stableAt) >= im.cfg.SettleDelay {
			ready = append(ready, path)
			delete(im.pending, path)
		}
	}
	im.mu.Unlock()

	sort.Strings(ready)
	imported := 0
	for _, path := range ready {
		if ctx.Err() != nil {
			break
		}
		if err := im.importFile(ctx, path); err != nil {
			im.log.WithError(err).WithField("file", filepath.Base(path)).Warn("import failed")
			continue
		}
		imported++
	}
	return imported
}

func (im *Importer) importFile(ctx context.Context, path string) error {
	name := filepath.Base(path)
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}

	req := media.UploadRequest{
		AlbumID:     im.cfg.AlbumID,
		Filename:    name,
		ContentType: media.ContentTypeFor(name),
		Size:        info.Size(),
		Body:        f,
	}
	if im.cfg.UploaderID != 0 {
		id := im.cfg.UploaderID
		req.UploadedBy = &id
	}
	photo, uploadErr := im.uploader.Upload(ctx, req)
	f.Close()

	if uploadErr != nil {
		if moveErr := im.moveFailed(path, uploadErr); moveErr != nil {
			return errors.Join(uploadErr, moveErr)
		}
		return uploadErr
	}

	if _, err := im.move(path, processedDir); err != nil {
		return fmt.Errorf("imported as photo %d but could not move file: %w", photo.ID, err)
	}
	im.log.WithFields(logrus.Fields{"file": name, "photo_id": photo.ID}).Info("imported")
	return nil
}

func (im *Importer) moveFailed(path string, reason error) error {
	dest, err := im.move(path, failedDir)
	if err != nil {
		return err
	}
	return os.WriteFile(dest+".error", []byte(reason.Error()+"\n"), 0o644)
}

// move renames path into sub, adding a timestamp when the name is taken
func (im *Importer) move(path, sub string) (string, error) {
	name := filepath.Base(path)
	dest := filepath.Join(im.cfg.InboxDir, sub, name)
	if _, err := os.Stat(dest); err == nil {
		ext := filepath.Ext(name)
		dest = filepath.Join(im.cfg.InboxDir, sub,
			fmt.Sprintf("%s-%s%s", strings.TrimSuffix(name, ext), im.now().UTC().Format("20060102T150405.000"), ext))
	}
	if err := os.Rename(path, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// candidate skips hidden and partial downloads and unsupported extensions
func candidate(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, "~") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".part", ".crdownload", ".tmp":
		return false
	}
	return media.IsSupportedFile(name)
}
