package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HashLen is the length of a fingerprint hash in hex characters.
const HashLen = sha256.Size * 2

// Hash computes the hex SHA-256 digest of the canonical serialization of
// record. The record must not contain the system-assigned fields; Merge
// guarantees that.
func Hash(record map[string]any) (string, error) {
	canonical, err := MarshalCanonical(record)
	if err != nil {
		return "", fmt.Errorf("canonicalize record: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
