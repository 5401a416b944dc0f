package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build identifies the running console in logs and traces.
type Build struct {
	Service string
	Version string
	// InstanceID defaults to a random id per process.
	InstanceID string
}

func (b Build) withDefaults() Build {
	if b.Version == "" {
		b.Version = "dev"
	}
	if b.InstanceID == "" {
		b.InstanceID = uuid.NewString()
	}
	return b
}

// SetupLogger returns a production zap logger at level, or a no-op logger when
// construction fails. Unknown levels fall back to info.
func SetupLogger(service, level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger.With(zap.String("service", service))
}

// TracerResource describes the console instance on every exported span.
func TracerResource(b Build) *resource.Resource {
	b = b.withDefaults()
	attrs := []attribute.KeyValue{
		semconv.ServiceName(b.Service),
		semconv.ServiceVersion(b.Version),
		attribute.String("service.instance.id", b.InstanceID),
	}
	if host, err := os.Hostname(); err == nil {
		attrs = append(attrs, semconv.HostName(host))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

// SetupTracer installs a tracer provider exporting to stdout.
func SetupTracer(_ context.Context, b Build) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}
	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(TracerResource(b)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Check is one readiness check of a dependency such as Redis or NATS.
type Check struct {
	Name string
	Run  func(ctx context.Context) error
}

// MetricsRouter serves /healthz (liveness), /readyz (every check passes) and
// Prometheus /metrics.
func MetricsRouter(checks ...Check) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		failed := map[string]string{}
		for _, c := range checks {
			if err := c.Run(ctx); err != nil {
				failed[c.Name] = err.Error()
			}
		}
		status := http.StatusOK
		if len(failed) > 0 {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"ready": len(failed) == 0, "failed": failed})
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}
