package fingerprint

import "github.com/kiranshivaraju/fingerprintd/pkg/models"

// reservedFields are assigned by the system and never taken from the client.
var reservedFields = []string{
	models.FieldID,
	models.FieldHash,
	models.FieldLastVisited,
	models.FieldCreatedAt,
}

// DefaultStripFields are self-reported client fields excluded from the
// record. Geolocation reported by the browser is client-controlled and would
// split otherwise identical fingerprints.
var DefaultStripFields = []string{"city", "country"}

// Merge builds the record that gets hashed and stored. Client fields go to the
// top level minus reserved and stripped keys; server metadata is nested under
// "server" and replaces any client value with that name. The inputs are not
// modified.
func Merge(client, server map[string]any, strip []string) map[string]any {
	record := make(map[string]any, len(client)+1)
	for k, v := range client {
		record[k] = v
	}
	for _, k := range reservedFields {
		delete(record, k)
	}
	for _, k := range strip {
		delete(record, k)
	}

	meta := make(map[string]any, len(server))
	for k, v := range server {
		meta[k] = v
	}
	record[models.FieldServer] = meta
	return record
}
