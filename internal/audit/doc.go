// Package audit dispatches security and lifecycle events asynchronously.
//
// # Components
//
//   - [Sink]: event consumer (channel, JSON writer, slog, fan-out, no-op).
//   - [Dispatcher]: buffered relay with drop-if-full or block-if-full semantics.
//   - [Event]: structured record with type, principal, tenant, correlation id and metadata.
//
// The Engine decides which events to emit. This package only buffers and
// delivers them. Network sinks live outside the module core.
package audit
