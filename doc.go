// Package tenantauth is a multi-tenant authentication and subscription-gate
// core. It issues short-lived HS256 access tokens, persists rotating refresh
// tokens, binds every principal to one tenant (super_admin excepted), and
// refuses creates that would exceed the tenant's active plan.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// tenantauth is the public surface. It exposes [Engine], [Builder], [Config],
// the subscription and tenant managers reachable from the engine
// ([Engine.Subscriptions], [Engine.Tenants], [Engine.Quota], [Engine.Plans])
// and plain value types. Persistence goes through the store.CredentialStore
// interface; store/pgstore is the PostgreSQL implementation and
// store/memstore the in-process one. Second-factor login challenges live in
// Redis.
//
// # Errors
//
// Every operation returns one of the sentinel errors in errors.go, possibly
// wrapped; compare with errors.Is. Token problems all match
// [ErrTokenRejected]. Quota denials are *[QuotaError] values carrying the
// limit and the current count. Unexpected failures surface as [ErrInternal]
// and are logged under the request correlation id set with
// [WithCorrelationID].
//
// # Time
//
// Every time-dependent decision reads the clock given to [Builder.WithClock].
// Store writes run detached from the caller's cancellation and are bounded by
// Config.Store.WriteTimeout.
package tenantauth
