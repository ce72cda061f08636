// Package fingerprint turns client fingerprint payloads into content-hashed
// records and persists them idempotently.
package fingerprint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/fingerprintd/internal/cache"
	"github.com/kiranshivaraju/fingerprintd/internal/metrics"
	"github.com/kiranshivaraju/fingerprintd/internal/store"
	"github.com/kiranshivaraju/fingerprintd/pkg/models"
)

// ErrInvalidPayload is returned when the client payload cannot be turned
// into a record (missing, not an object, or not representable as JSON).
var ErrInvalidPayload = errors.New("invalid fingerprint payload")

// StorageError wraps any storage failure other than a duplicate hash.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Clock supplies the write time for last_visited.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// SubmitResult is returned for both new and already-known fingerprints.
type SubmitResult struct {
	Hash    string
	Created bool
}

// Service is the fingerprint writer and reader.
type Service struct {
	store    store.Store
	cache    cache.Cache
	cacheTTL time.Duration
	metrics  metrics.Recorder
	clock    Clock
	strip    []string

	// listGen counts list invalidations. A list read from the store is only
	// cached if no invalidation happened since the read started.
	listGen atomic.Uint64
}

type Option func(*Service)

func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithListCache enables the read-through cache for List. A ttl <= 0 leaves
// caching disabled.
func WithListCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Service) {
		if c != nil && ttl > 0 {
			s.cache = c
			s.cacheTTL = ttl
		}
	}
}

func WithMetrics(m metrics.Recorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithStripFields replaces DefaultStripFields. Pass an empty slice to keep
// every client field.
func WithStripFields(fields []string) Option {
	return func(s *Service) { s.strip = append([]string(nil), fields...) }
}

// NewService creates a new Service.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:   st,
		cache:   cache.Noop{},
		metrics: metrics.Noop{},
		clock:   ClockFunc(time.Now),
		strip:   DefaultStripFields,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit merges the client payload with server metadata, hashes the result
// and inserts it. A hash that already exists is a success: the existing row
// is kept and its last_visited is advanced on a best-effort basis.
func (s *Service) Submit(ctx context.Context, client, server map[string]any) (*SubmitResult, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: payload must be a JSON object", ErrInvalidPayload)
	}

	record := Merge(client, server, s.strip)
	hash, err := Hash(record)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	now := s.clock.Now().UTC()
	fp := &models.Fingerprint{
		ID:          uuid.New(),
		Hash:        hash,
		Data:        record,
		LastVisited: now,
		CreatedAt:   now,
	}

	start := time.Now()
	outcome, err := s.store.InsertFingerprint(ctx, fp)
	s.metrics.ObserveStorageDuration("insert", time.Since(start))
	s.metrics.IncWrites(outcome.String())

	switch outcome {
	case store.OutcomeInserted:
		s.invalidateList(ctx)
		return &SubmitResult{Hash: hash, Created: true}, nil
	case store.OutcomeDuplicate:
		s.touch(ctx, hash, now)
		return &SubmitResult{Hash: hash}, nil
	default:
		if err == nil {
			err = errors.New("store reported failure without an error")
		}
		return nil, &StorageError{Op: "insert", Err: err}
	}
}

// touch advances last_visited on an existing row. Its failure never fails
// the submission.
func (s *Service) touch(ctx context.Context, hash string, at time.Time) {
	start := time.Now()
	err := s.store.TouchFingerprint(ctx, hash, at)
	s.metrics.ObserveStorageDuration("touch", time.Since(start))
	if err != nil {
		slog.Warn("touch fingerprint failed", "hash", hash, "error", err)
		return
	}
	s.invalidateList(ctx)
}

// List returns every stored fingerprint, most recently visited first.
func (s *Service) List(ctx context.Context) ([]*models.Fingerprint, error) {
	if fps, ok := s.cachedList(ctx); ok {
		return fps, nil
	}

	gen := s.listGen.Load()
	start := time.Now()
	fps, err := s.store.ListFingerprints(ctx)
	s.metrics.ObserveStorageDuration("list", time.Since(start))
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	if fps == nil {
		fps = []*models.Fingerprint{}
	}

	s.cacheList(ctx, fps, gen)
	return fps, nil
}

func (s *Service) cachedList(ctx context.Context) ([]*models.Fingerprint, bool) {
	if s.cacheTTL <= 0 {
		return nil, false
	}
	b, found, err := s.cache.Get(ctx, cache.FingerprintListKey)
	if err != nil {
		slog.Warn("list cache read failed", "error", err)
		return nil, false
	}
	if !found {
		s.metrics.IncCacheMisses()
		return nil, false
	}

	var fps []*models.Fingerprint
	if err := json.Unmarshal(b, &fps); err != nil {
		slog.Warn("list cache entry undecodable", "error", err)
		return nil, false
	}
	if fps == nil {
		fps = []*models.Fingerprint{}
	}
	s.metrics.IncCacheHits()
	return fps, true
}

// cacheList stores fps unless a write invalidated the list after gen was
// read. A write racing with Set is caught by the second check.
func (s *Service) cacheList(ctx context.Context, fps []*models.Fingerprint, gen uint64) {
	if s.cacheTTL <= 0 || s.listGen.Load() != gen {
		return
	}
	b, err := json.Marshal(fps)
	if err != nil {
		slog.Warn("list cache encode failed", "error", err)
		return
	}
	if err := s.cache.Set(ctx, cache.FingerprintListKey, b, s.cacheTTL); err != nil {
		slog.Warn("list cache write failed", "error", err)
		return
	}
	if s.listGen.Load() != gen {
		s.deleteList(ctx)
	}
}

func (s *Service) invalidateList(ctx context.Context) {
	if s.cacheTTL <= 0 {
		return
	}
	s.listGen.Add(1)
	s.deleteList(ctx)
}

func (s *Service) deleteList(ctx context.Context) {
	if err := s.cache.Delete(ctx, cache.FingerprintListKey); err != nil {
		slog.Warn("list cache invalidation failed", "error", err)
	}
}
