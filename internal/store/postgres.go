package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/fingerprintd/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) InsertFingerprint(ctx context.Context, fp *models.Fingerprint) (InsertOutcome, error) {
	data, err := json.Marshal(fp.Data)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("encode fingerprint data: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO fingerprints (id, hash, data, last_visited, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		fp.ID, fp.Hash, data, fp.LastVisited, fp.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return OutcomeDuplicate, nil
		}
		return OutcomeFailed, fmt.Errorf("insert fingerprint: %w", classifyPgError(err))
	}
	return OutcomeInserted, nil
}

func (s *PostgresStore) TouchFingerprint(ctx context.Context, hash string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE fingerprints SET last_visited = GREATEST(last_visited, $2) WHERE hash = $1`,
		hash, at)
	if err != nil {
		return fmt.Errorf("touch fingerprint: %w", classifyPgError(err))
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListFingerprints(ctx context.Context) ([]*models.Fingerprint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, hash, data, last_visited, created_at
		 FROM fingerprints ORDER BY last_visited DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list fingerprints: %w", classifyPgError(err))
	}
	defer rows.Close()

	fps := []*models.Fingerprint{}
	for rows.Next() {
		var fp models.Fingerprint
		var data []byte
		if err := rows.Scan(&fp.ID, &fp.Hash, &data, &fp.LastVisited, &fp.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		if fp.Data, err = decodeData(data); err != nil {
			return nil, fmt.Errorf("decode fingerprint %s: %w", fp.Hash, err)
		}
		fp.LastVisited = fp.LastVisited.UTC()
		fp.CreatedAt = fp.CreatedAt.UTC()
		fps = append(fps, &fp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list fingerprints: %w", classifyPgError(err))
	}
	return fps, nil
}

// decodeData keeps numbers as json.Number so large integers survive the
// round trip through the data column.
func decodeData(b []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// hashConstraint is the unique constraint created by the initial migration.
const hashConstraint = "fingerprints_hash_key"

// isDuplicateKeyError checks if a pgx error is a unique violation on hash.
// A collision on the primary key is a plain failure.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && // unique_violation
			(pgErr.ConstraintName == "" || pgErr.ConstraintName == hashConstraint)
	}
	return false
}

// classifyPgError wraps errors that are worth retrying in a TransientError.
func classifyPgError(err error) error {
	if isTransientPgError(err) {
		return &TransientError{Err: err}
	}
	return err
}

func isTransientPgError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"53300", // too_many_connections
			"57P03": // cannot_connect_now
			return true
		}
		return strings.HasPrefix(pgErr.Code, "08") // connection_exception class
	}
	return false
}
