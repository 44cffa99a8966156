package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "finitefield.org/storefront-sync"

func scoped(scope string) string {
	if scope == "" {
		return instrumentationName
	}
	return instrumentationName + "/" + scope
}

// Tracer returns the named tracer from the global provider. Without an SDK
// provider installed the returned tracer is a no-op.
func Tracer(scope string) trace.Tracer {
	return otel.Tracer(scoped(scope))
}

// Meter returns the named meter from the global provider, a no-op until an SDK
// provider is installed.
func Meter(scope string) metric.Meter {
	return otel.GetMeterProvider().Meter(scoped(scope))
}
