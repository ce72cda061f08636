package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/fingerprintd/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint_MarshalJSONFlattensData(t *testing.T) {
	id := uuid.MustParse("3f1c0a52-8e0b-4f59-9d51-1a2b3c4d5e6f")
	at := time.Date(2024, 3, 1, 12, 0, 0, 500, time.FixedZone("CET", 3600))
	fp := &models.Fingerprint{
		ID:          id,
		Hash:        "abc",
		Data:        map[string]any{"canvas": "x", "server": map[string]any{"protocol": "http"}},
		LastVisited: at,
		CreatedAt:   at,
	}

	b, err := json.Marshal(fp)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, "x", out["canvas"])
	assert.Equal(t, id.String(), out["id"])
	assert.Equal(t, "abc", out["hash"])
	assert.Equal(t, "2024-03-01T11:00:00.0000005Z", out["last_visited"])
	assert.Equal(t, map[string]any{"protocol": "http"}, out["server"])
}

func TestFingerprint_SystemFieldsWin(t *testing.T) {
	fp := &models.Fingerprint{
		ID:   uuid.New(),
		Hash: "real",
		Data: map[string]any{"hash": "spoofed"},
	}

	b, err := json.Marshal(fp)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, "real", out["hash"])
}

func TestFingerprint_UnmarshalJSONRoundTrip(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	fp := &models.Fingerprint{
		ID:          uuid.New(),
		Hash:        "abc",
		Data:        map[string]any{"n": json.Number("9007199254740993"), "f": json.Number("1.5")},
		LastVisited: at.Add(time.Hour),
		CreatedAt:   at,
	}

	b, err := json.Marshal(fp)
	require.NoError(t, err)

	var got models.Fingerprint
	require.NoError(t, json.Unmarshal(b, &got))

	assert.Equal(t, fp.ID, got.ID)
	assert.Equal(t, fp.Hash, got.Hash)
	assert.True(t, fp.LastVisited.Equal(got.LastVisited))
	assert.True(t, fp.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, fp.Data, got.Data)
}

func TestFingerprint_UnmarshalJSONErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"bad id", `{"id":"nope"}`},
		{"bad time", `{"last_visited":"yesterday"}`},
		{"not an object", `[1]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fp models.Fingerprint
			assert.Error(t, json.Unmarshal([]byte(tt.input), &fp))
		})
	}
}
