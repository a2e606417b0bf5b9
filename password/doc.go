// Package password hashes and verifies passwords with argon2id.
//
// # Output format
//
// Digests are PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Cost parameters travel with the digest. [Hasher.NeedsUpgrade] reports
// digests made with weaker parameters so the caller can rehash after a
// successful login.
//
// # Architecture boundaries
//
// This package owns hashing only. It never stores passwords, never logs
// them, and imports no other tenantauth package.
package password
