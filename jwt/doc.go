// Package jwt issues and verifies the two token classes used by tenantauth.
//
// Access and refresh tokens are HS256 JWTs signed with separate keys. A
// token signed with one class key never verifies as the other class: Verify
// reports ErrWrongClass when the signature matches the other key, and
// ErrInvalid when it matches neither.
package jwt
