package store

import (
	"context"
	"errors"
	"time"

	"github.com/kiranshivaraju/fingerprintd/pkg/models"
)

var ErrNotFound = errors.New("resource not found")

// InsertOutcome is the tagged result of an insert. A unique-constraint
// violation on hash is reported as OutcomeDuplicate with a nil error, never
// as an error value.
type InsertOutcome int

const (
	OutcomeFailed InsertOutcome = iota
	OutcomeInserted
	OutcomeDuplicate
)

func (o InsertOutcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "failed"
	}
}

// Store is the data access interface. All database operations go through here.
// Implementations must be safe for concurrent use and must enforce uniqueness
// of Fingerprint.Hash themselves.
type Store interface {
	Ping(ctx context.Context) error

	// InsertFingerprint returns OutcomeFailed together with a non-nil error
	// on any failure other than a duplicate hash.
	InsertFingerprint(ctx context.Context, fp *models.Fingerprint) (InsertOutcome, error)
	// TouchFingerprint moves last_visited forward to at. It never moves it
	// backwards. Returns ErrNotFound when no row has the hash.
	TouchFingerprint(ctx context.Context, hash string, at time.Time) error
	// ListFingerprints returns every record, last_visited descending, ties
	// broken by id ascending.
	ListFingerprints(ctx context.Context) ([]*models.Fingerprint, error)
}

// TransientError marks a backend error that may succeed when retried
// (lost connection, serialization failure, busy database).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err, or anything it wraps, is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
