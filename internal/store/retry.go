package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/kiranshivaraju/fingerprintd/pkg/models"
)

// RetryPolicy bounds how often a transient storage failure is retried.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is used for zero fields of a caller-supplied policy.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     3,
	InitialInterval: 50 * time.Millisecond,
	MaxInterval:     1 * time.Second,
}

// RetryingStore decorates a Store with bounded exponential backoff. Only
// errors the backend marked as TransientError are retried; a duplicate hash
// is an outcome, not an error, and passes straight through.
type RetryingStore struct {
	next   Store
	policy RetryPolicy
}

// NewRetryingStore wraps next with policy.
func NewRetryingStore(next Store, policy RetryPolicy) *RetryingStore {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = DefaultRetryPolicy.InitialInterval
	}
	if policy.MaxInterval <= 0 {
		policy.MaxInterval = DefaultRetryPolicy.MaxInterval
	}
	return &RetryingStore{next: next, policy: policy}
}

func (s *RetryingStore) Ping(ctx context.Context) error {
	return s.next.Ping(ctx)
}

func (s *RetryingStore) InsertFingerprint(ctx context.Context, fp *models.Fingerprint) (InsertOutcome, error) {
	outcome := OutcomeFailed
	err := s.do(ctx, "insert", func() error {
		var err error
		outcome, err = s.next.InsertFingerprint(ctx, fp)
		return err
	})
	if err != nil {
		return OutcomeFailed, err
	}
	return outcome, nil
}

func (s *RetryingStore) TouchFingerprint(ctx context.Context, hash string, at time.Time) error {
	return s.do(ctx, "touch", func() error {
		return s.next.TouchFingerprint(ctx, hash, at)
	})
}

func (s *RetryingStore) ListFingerprints(ctx context.Context) ([]*models.Fingerprint, error) {
	var fps []*models.Fingerprint
	err := s.do(ctx, "list", func() error {
		var err error
		fps, err = s.next.ListFingerprints(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fps, nil
}

func (s *RetryingStore) do(ctx context.Context, op string, fn func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.policy.InitialInterval
	eb.MaxInterval = s.policy.MaxInterval
	eb.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(s.policy.MaxAttempts-1)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		slog.Warn("transient storage error",
			"op", op,
			"attempt", attempt,
			"max_attempts", s.policy.MaxAttempts,
			"error", err,
		)
		return err
	}, b)
}
