package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/fingerprintd/pkg/models"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteStore implements the Store interface on a single SQLite file.
// Timestamps are stored as unix nanoseconds so ORDER BY is numeric.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite creates or opens the database at path and applies the schema.
// Safe to call on an existing database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite allows one writer; a single connection avoids SQLITE_BUSY churn
	// and keeps per-connection pragmas in effect.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %q: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) InsertFingerprint(ctx context.Context, fp *models.Fingerprint) (InsertOutcome, error) {
	data, err := json.Marshal(fp.Data)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("encode fingerprint data: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO fingerprints (id, hash, data, last_visited, created_at) VALUES (?, ?, ?, ?, ?)`,
		fp.ID.String(), fp.Hash, string(data), fp.LastVisited.UnixNano(), fp.CreatedAt.UnixNano())
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return OutcomeDuplicate, nil
		}
		return OutcomeFailed, fmt.Errorf("insert fingerprint: %w", classifySQLiteError(err))
	}
	return OutcomeInserted, nil
}

func (s *SQLiteStore) TouchFingerprint(ctx context.Context, hash string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE fingerprints SET last_visited = MAX(last_visited, ?) WHERE hash = ?`,
		at.UnixNano(), hash)
	if err != nil {
		return fmt.Errorf("touch fingerprint: %w", classifySQLiteError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch fingerprint: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListFingerprints(ctx context.Context) ([]*models.Fingerprint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, hash, data, last_visited, created_at
		 FROM fingerprints ORDER BY last_visited DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list fingerprints: %w", classifySQLiteError(err))
	}
	defer rows.Close()

	fps := []*models.Fingerprint{}
	for rows.Next() {
		var (
			id, hash, data          string
			lastVisited, createdAt int64
		)
		if err := rows.Scan(&id, &hash, &data, &lastVisited, &createdAt); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		fp := &models.Fingerprint{
			Hash:        hash,
			LastVisited: time.Unix(0, lastVisited).UTC(),
			CreatedAt:   time.Unix(0, createdAt).UTC(),
		}
		if fp.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse fingerprint id: %w", err)
		}
		if fp.Data, err = decodeData([]byte(data)); err != nil {
			return nil, fmt.Errorf("decode fingerprint %s: %w", hash, err)
		}
		fps = append(fps, fp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list fingerprints: %w", classifySQLiteError(err))
	}
	return fps, nil
}

func isSQLiteUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	if se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	// Without extended result codes only the primary code is reported.
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "fingerprints.hash")
}

func classifySQLiteError(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return &TransientError{Err: err}
		}
	}
	return err
}
