// Package stores provides the Redis-backed second-factor challenge store.
//
// A challenge is a versioned, binary-encoded record with a TTL. Failure
// counting uses WATCH/MULTI optimistic transactions with bounded retry.
// Consume deletes the record and reports whether this caller deleted it, so
// exactly one concurrent verifier can win a challenge.
//
// The package makes no authentication decisions and never stores codes.
package stores
