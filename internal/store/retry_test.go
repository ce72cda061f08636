package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kiranshivaraju/fingerprintd/internal/store"
	"github.com/kiranshivaraju/fingerprintd/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore fails the first failures calls of every operation with err.
type flakyStore struct {
	failures int
	err      error
	outcome  store.InsertOutcome
	calls    int
}

func (f *flakyStore) fail() error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return nil
}

func (f *flakyStore) Ping(context.Context) error { return f.fail() }

func (f *flakyStore) InsertFingerprint(context.Context, *models.Fingerprint) (store.InsertOutcome, error) {
	if err := f.fail(); err != nil {
		return store.OutcomeFailed, err
	}
	return f.outcome, nil
}

func (f *flakyStore) TouchFingerprint(context.Context, string, time.Time) error { return f.fail() }

func (f *flakyStore) ListFingerprints(context.Context) ([]*models.Fingerprint, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return []*models.Fingerprint{}, nil
}

var fastPolicy = store.RetryPolicy{
	MaxAttempts:     3,
	InitialInterval: time.Millisecond,
	MaxInterval:     2 * time.Millisecond,
}

var errConnReset = &store.TransientError{Err: errors.New("connection reset")}

func TestRetryingStore_RecoversFromTransientError(t *testing.T) {
	next := &flakyStore{failures: 2, err: errConnReset, outcome: store.OutcomeInserted}
	s := store.NewRetryingStore(next, fastPolicy)

	outcome, err := s.InsertFingerprint(context.Background(), newFingerprint(hashOf('a'), base))
	require.NoError(t, err)
	assert.Equal(t, store.OutcomeInserted, outcome)
	assert.Equal(t, 3, next.calls)
}

func TestRetryingStore_GivesUpAfterMaxAttempts(t *testing.T) {
	next := &flakyStore{failures: 10, err: errConnReset}
	s := store.NewRetryingStore(next, fastPolicy)

	outcome, err := s.InsertFingerprint(context.Background(), newFingerprint(hashOf('a'), base))
	require.Error(t, err)
	assert.True(t, store.IsTransient(err))
	assert.Equal(t, store.OutcomeFailed, outcome)
	assert.Equal(t, 3, next.calls)
}

func TestRetryingStore_PermanentErrorNotRetried(t *testing.T) {
	permanent := errors.New("syntax error")
	next := &flakyStore{failures: 10, err: permanent}
	s := store.NewRetryingStore(next, fastPolicy)

	_, err := s.InsertFingerprint(context.Background(), newFingerprint(hashOf('a'), base))
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, next.calls)
}

func TestRetryingStore_DuplicatePassesThrough(t *testing.T) {
	next := &flakyStore{outcome: store.OutcomeDuplicate}
	s := store.NewRetryingStore(next, fastPolicy)

	outcome, err := s.InsertFingerprint(context.Background(), newFingerprint(hashOf('a'), base))
	require.NoError(t, err)
	assert.Equal(t, store.OutcomeDuplicate, outcome)
	assert.Equal(t, 1, next.calls)
}

func TestRetryingStore_NotFoundNotRetried(t *testing.T) {
	next := &flakyStore{failures: 10, err: store.ErrNotFound}
	s := store.NewRetryingStore(next, fastPolicy)

	err := s.TouchFingerprint(context.Background(), hashOf('a'), base)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 1, next.calls)
}

func TestRetryingStore_ListRetries(t *testing.T) {
	next := &flakyStore{failures: 1, err: errConnReset}
	s := store.NewRetryingStore(next, fastPolicy)

	fps, err := s.ListFingerprints(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, fps)
	assert.Equal(t, 2, next.calls)
}

func TestRetryingStore_StopsOnCanceledContext(t *testing.T) {
	next := &flakyStore{failures: 10, err: errConnReset}
	s := store.NewRetryingStore(next, store.RetryPolicy{
		MaxAttempts:     10,
		InitialInterval: time.Hour,
		MaxInterval:     time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	done := make(chan error, 1)
	go func() { done <- s.TouchFingerprint(ctx, hashOf('a'), base) }()

	select {
	case err := <-done:
		assert.Error(t, err)
		assert.Equal(t, 1, next.calls)
	case <-time.After(5 * time.Second):
		t.Fatal("retry did not stop after cancellation")
	}
}

func TestNewRetryingStore_ZeroPolicyUsesDefaults(t *testing.T) {
	next := &flakyStore{failures: 10, err: &store.TransientError{Err: errors.New("busy")}}
	s := store.NewRetryingStore(next, store.RetryPolicy{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond})

	_ = s.TouchFingerprint(context.Background(), hashOf('a'), base)
	assert.Equal(t, store.DefaultRetryPolicy.MaxAttempts, next.calls)
}
