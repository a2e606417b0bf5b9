// Package internal holds helpers private to tenantauth: random identifiers,
// token hashing and backup-code encoding.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher and Sink implementations)
//   - ids: sortable ULID identifiers
//   - logging: slog construction and context propagation
//   - sanitize: free-text and identifier normalization
//   - stores: Redis-backed second-factor challenge store
package internal
