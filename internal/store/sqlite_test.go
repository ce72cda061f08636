package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kiranshivaraju/fingerprintd/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSQLite(t *testing.T) (*store.SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fingerprints.db")

	s, err := store.OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s, path
}

func TestSQLiteStore(t *testing.T) {
	s, _ := setupSQLite(t)
	exerciseStore(t, s)
}

func TestSQLiteStore_ListEmpty(t *testing.T) {
	s, _ := setupSQLite(t)

	fps, err := s.ListFingerprints(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, fps)
	assert.Empty(t, fps)
}

func TestSQLiteStore_Ping(t *testing.T) {
	s, _ := setupSQLite(t)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestSQLiteStore_Reopen(t *testing.T) {
	s, path := setupSQLite(t)
	ctx := context.Background()

	fp := newFingerprint(hashOf('a'), base)
	_, err := s.InsertFingerprint(ctx, fp)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := store.OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	fps, err := reopened.ListFingerprints(ctx)
	require.NoError(t, err)
	require.Len(t, fps, 1)
	assert.Equal(t, fp.ID, fps[0].ID)

	outcome, err := reopened.InsertFingerprint(ctx, newFingerprint(hashOf('a'), base))
	require.NoError(t, err)
	assert.Equal(t, store.OutcomeDuplicate, outcome)
}

func TestSQLiteStore_DuplicateIDIsNotDuplicateHash(t *testing.T) {
	s, _ := setupSQLite(t)
	ctx := context.Background()

	fp := newFingerprint(hashOf('a'), base)
	_, err := s.InsertFingerprint(ctx, fp)
	require.NoError(t, err)

	clash := newFingerprint(hashOf('b'), base)
	clash.ID = fp.ID
	outcome, err := s.InsertFingerprint(ctx, clash)
	assert.Error(t, err)
	assert.Equal(t, store.OutcomeFailed, outcome)
}

func TestSQLiteStore_ClosedDatabase(t *testing.T) {
	s, _ := setupSQLite(t)
	require.NoError(t, s.Close())

	outcome, err := s.InsertFingerprint(context.Background(), newFingerprint(hashOf('a'), base))
	assert.Error(t, err)
	assert.Equal(t, store.OutcomeFailed, outcome)
}
