package tenantauth

import (
	"context"

	"github.com/MrEthical07/tenantauth/internal/logging"
)

// WithCorrelationID attaches a request correlation id to ctx. Engine logs
// and audit events carry it; internal errors are reported under it.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return logging.WithCorrelationID(ctx, id)
}

// CorrelationID returns the id attached by WithCorrelationID, if any.
func CorrelationID(ctx context.Context) string {
	return logging.CorrelationIDFromContext(ctx)
}
