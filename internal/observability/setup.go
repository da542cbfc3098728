package observability

import (
	"context"

	"github.com/parley-chat/parley/internal/infrastructure/observability"
)

// Setup installs the logger, registers metrics and starts the tracer.
// The /metrics endpoint itself is served by the router.
func Setup(serviceName string) func(context.Context) error {
	observability.InitLogger()
	observability.InitMetrics()
	return observability.InitTracing(serviceName)
}
