// Package models contains shared data models used across the fingerprintd codebase.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// System-assigned fields. Clients cannot set these; they are added on top of
// the merged record when a fingerprint is rendered.
const (
	FieldID          = "id"
	FieldHash        = "hash"
	FieldLastVisited = "last_visited"
	FieldCreatedAt   = "created_at"
	FieldServer      = "server"
)

// Fingerprint is one stored browser fingerprint. Data holds the merged record
// (client fields at top level, server metadata under "server") exactly as it
// was hashed.
type Fingerprint struct {
	ID          uuid.UUID      `db:"id"`
	Hash        string         `db:"hash"`
	Data        map[string]any `db:"data"`
	LastVisited time.Time      `db:"last_visited"`
	CreatedAt   time.Time      `db:"created_at"`
}

// MarshalJSON renders the record flattened: data fields at the top level,
// system fields alongside them.
func (f *Fingerprint) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(f.Data)+4)
	for k, v := range f.Data {
		out[k] = v
	}
	out[FieldID] = f.ID
	out[FieldHash] = f.Hash
	out[FieldLastVisited] = f.LastVisited.UTC().Format(time.RFC3339Nano)
	out[FieldCreatedAt] = f.CreatedAt.UTC().Format(time.RFC3339Nano)
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON. Numbers inside Data are kept
// as json.Number so that re-encoding is lossless.
func (f *Fingerprint) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	if s, ok := raw[FieldID].(string); ok {
		id, err := uuid.Parse(s)
		if err != nil {
			return fmt.Errorf("parse id: %w", err)
		}
		f.ID = id
	}
	f.Hash, _ = raw[FieldHash].(string)

	var err error
	if f.LastVisited, err = parseTimeField(raw, FieldLastVisited); err != nil {
		return err
	}
	if f.CreatedAt, err = parseTimeField(raw, FieldCreatedAt); err != nil {
		return err
	}

	for _, k := range []string{FieldID, FieldHash, FieldLastVisited, FieldCreatedAt} {
		delete(raw, k)
	}
	f.Data = raw
	return nil
}

func parseTimeField(raw map[string]any, key string) (time.Time, error) {
	s, ok := raw[key].(string)
	if !ok || s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", key, err)
	}
	return t, nil
}
