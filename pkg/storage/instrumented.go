package storage

import (
	"context"
	"io"
	"time"

	"github.com/platinummonkey/lightbox/pkg/observability"
)

// InstrumentedBlobStore records Prometheus metrics around another BlobStore
type InstrumentedBlobStore struct {
	next    BlobStore
	backend string
	metrics *observability.Metrics
}

// Instrument wraps store; a nil metrics returns store unchanged
func Instrument(store BlobStore, backend string, metrics *observability.Metrics) BlobStore {
	if metrics == nil {
		return store
	}
	return &InstrumentedBlobStore{next: store, backend: backend, metrics: metrics}
}

func (s *InstrumentedBlobStore) Put(ctx context.Context, key string, content io.Reader, contentType string) error {
	start := time.Now()
	err := s.next.Put(ctx, key, content, contentType)
	s.metrics.RecordStorageOperation("put", s.backend, err, time.Since(start))
	return err
}

func (s *InstrumentedBlobStore) Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	start := time.Now()
	rc, info, err := s.next.Get(ctx, key)
	recorded := err
	if err == ErrObjectNotFound {
		recorded = nil
	}
	s.metrics.RecordStorageOperation("get", s.backend, recorded, time.Since(start))
	return rc, info, err
}

func (s *InstrumentedBlobStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.next.Delete(ctx, key)
	s.metrics.RecordStorageOperation("delete", s.backend, err, time.Since(start))
	return err
}

func (s *InstrumentedBlobStore) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := s.next.Exists(ctx, key)
	s.metrics.RecordStorageOperation("exists", s.backend, err, time.Since(start))
	return ok, err
}

func (s *InstrumentedBlobStore) HealthCheck(ctx context.Context) error {
	return s.next.HealthCheck(ctx)
}
