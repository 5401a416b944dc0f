package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestSetupLoggerLevel(t *testing.T) {
	require.True(t, SetupLogger("svc", "debug").Core().Enabled(zapcore.DebugLevel))
	fallback := SetupLogger("svc", "loud")
	require.False(t, fallback.Core().Enabled(zapcore.DebugLevel))
	require.True(t, fallback.Core().Enabled(zapcore.InfoLevel))
}

func TestTracerResourceDescribesInstance(t *testing.T) {
	res := TracerResource(Build{Service: "coordinator-console", Version: "1.4.0", InstanceID: "pod-7"})
	got := map[string]string{}
	for _, kv := range res.Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	require.Equal(t, "coordinator-console", got["service.name"])
	require.Equal(t, "1.4.0", got["service.version"])
	require.Equal(t, "pod-7", got["service.instance.id"])

	res = TracerResource(Build{Service: "svc"})
	got = map[string]string{}
	for _, kv := range res.Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	require.Equal(t, "dev", got["service.version"])
	require.NotEmpty(t, got["service.instance.id"])
}

func TestMetricsRouter(t *testing.T) {
	h := MetricsRouter()
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestReadyzReportsFailedChecks(t *testing.T) {
	h := MetricsRouter(
		Check{Name: "redis", Run: func(context.Context) error { return nil }},
		Check{Name: "nats", Run: func(context.Context) error { return errors.New("disconnected") }},
	)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), `"nats":"disconnected"`)
	require.NotContains(t, rec.Body.String(), `"redis"`)
}
