package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const metaSuffix = ".meta"

// FileSystemBlobStore implements BlobStore on the local filesystem
type FileSystemBlobStore struct {
	rootDir string
}

// NewFileSystemBlobStore creates the root directory if needed
func NewFileSystemBlobStore(rootDir string) (*FileSystemBlobStore, error) {
	if rootDir == "" {
		return nil, errors.New("filesystem root is required")
	}
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &FileSystemBlobStore{rootDir: abs}, nil
}

// Root returns the absolute root directory
func (s *FileSystemBlobStore) Root() string {
	return s.rootDir
}

func (s *FileSystemBlobStore) pathFor(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	p := filepath.Join(s.rootDir, filepath.FromSlash(key))
	if !strings.HasPrefix(p, s.rootDir+string(filepath.Separator)) {
		return "", ErrInvalidKey
	}
	if strings.HasSuffix(p, metaSuffix) {
		return "", ErrInvalidKey
	}
	return p, nil
}

// Put writes content to a temp file in the target directory and renames it
// into place so readers never observe a partial object.
func (s *FileSystemBlobStore) Put(ctx context.Context, key string, content io.Reader, contentType string) error {
	p, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: content}); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close object: %w", err)
	}
	if err := os.WriteFile(p+metaSuffix, []byte(contentType), 0o644); err != nil {
		return fmt.Errorf("failed to write object metadata: %w", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		return fmt.Errorf("failed to move object into place: %w", err)
	}
	return nil
}

// Get opens an object for reading
func (s *FileSystemBlobStore) Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	p, err := s.pathFor(key)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrObjectNotFound
		}
		return nil, nil, fmt.Errorf("failed to open object: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to stat object: %w", err)
	}

	info := &ObjectInfo{
		Key:          key,
		Size:         st.Size(),
		LastModified: st.ModTime().UTC(),
	}
	if ct, err := os.ReadFile(p + metaSuffix); err == nil {
		info.ContentType = string(ct)
	}
	return f, info, nil
}

// Delete removes an object; deleting a missing key is not an error
func (s *FileSystemBlobStore) Delete(ctx context.Context, key string) error {
	p, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	_ = os.Remove(p + metaSuffix)
	s.pruneEmptyDirs(filepath.Dir(p))
	return nil
}

func (s *FileSystemBlobStore) pruneEmptyDirs(dir string) {
	for dir != s.rootDir && strings.HasPrefix(dir, s.rootDir) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// Exists reports whether key is stored
func (s *FileSystemBlobStore) Exists(ctx context.Context, key string) (bool, error) {
	p, err := s.pathFor(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object: %w", err)
	}
	return true, nil
}

// HealthCheck verifies the root is writable
func (s *FileSystemBlobStore) HealthCheck(ctx context.Context) error {
	f, err := os.CreateTemp(s.rootDir, ".health-*")
	if err != nil {
		return fmt.Errorf("filesystem storage not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
