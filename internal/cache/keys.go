package cache

// FingerprintListKey holds the encoded result of the most recent full listing.
// The version suffix changes whenever the cached encoding changes.
const FingerprintListKey = "fingerprints:list:v1"
