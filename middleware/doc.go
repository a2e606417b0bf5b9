// Package middleware adapts tenantauth to net/http and chi routers.
//
//   - [Correlation] propagates a correlation id into engine logs and audit events.
//   - [RequireAccess] verifies the bearer access token and stores its claims.
//   - [RequireRole] and [RequireTenant] authorize on those claims.
//
// The package never parses tokens itself; verification is delegated to an
// [AccessValidator], normally *tenantauth.Engine. Tenant and plan state is not
// consulted per request: an access token stays valid until it expires.
package middleware
