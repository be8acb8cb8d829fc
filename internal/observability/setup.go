package observability

import (
	"context"
	"net/http"

	"github.com/honeynil/court-wallet/internal/infrastructure/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Setup wires logs, metrics and traces for the process and returns the
// tracer shutdown func together with the /metrics handler.
func Setup(serviceName, logLevel string) (func(context.Context) error, http.Handler) {
	observability.InitLogger(logLevel)
	observability.InitMetrics(prometheus.DefaultRegisterer)
	tracerShutdown := observability.InitTracing(serviceName)
	return tracerShutdown, promhttp.Handler()
}
