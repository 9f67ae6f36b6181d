// Package securestore provides encrypted, integrity-checked, expiring
// key/value persistence over a pluggable [Backend].
//
// Every value is serialized, optionally compressed with S2, sealed with
// AES-256-GCM (the storage key is bound as additional data), and wrapped in
// an envelope carrying its write timestamp, optional expiration and an
// HMAC-SHA256 checksum. Reads verify the checksum before anything else.
//
// # Failure model
//
// Expired, tampered and undecodable records are purged and reported as absent
// (found == false, err == nil). Errors are returned only when the backend
// itself cannot be reached, wrapped with [ErrBackendUnavailable], or for
// invalid input such as an empty key.
//
// # What this package must NOT do
//
//   - Log values, keys or ciphertext.
//   - Return partially decrypted or unverified data.
//   - Panic on malformed records.
package securestore
