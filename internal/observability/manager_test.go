package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satguru/tiffin/internal/config"
)

func TestPrometheusMetricsAreScraped(t *testing.T) {
	ctx := context.Background()
	mgr, err := New(ctx, config.Observability{
		ServiceName:     "tiffin-test",
		EnableMetrics:   true,
		MetricsExporter: "prometheus",
		PrometheusPath:  "/metrics",
	}, "Satguru", zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = mgr.Shutdown(context.Background()) })

	if !mgr.MetricsEnabled() || mgr.TracingEnabled() {
		t.Fatalf("metrics=%v tracing=%v", mgr.MetricsEnabled(), mgr.TracingEnabled())
	}

	counter, err := mgr.MeterProvider().Meter("test").Int64Counter("tiffin.test.events")
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	counter.Add(ctx, 3)

	rec := httptest.NewRecorder()
	mgr.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if rec.Code != http.StatusOK || !strings.Contains(body, "tiffin_test_events") {
		t.Fatalf("scrape %d missing metric:\n%s", rec.Code, body)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Fatal("runtime collectors not registered")
	}
}

func TestTracedSkipsProbes(t *testing.T) {
	mgr, err := New(context.Background(), config.Observability{PrometheusPath: "/metrics"}, "", nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for path, want := range map[string]bool{
		"/health":                   false,
		"/metrics":                  false,
		"/admin/orders/:id":         true,
		"/satguru/v1/todays-orders": true,
	} {
		if got := mgr.Traced(path); got != want {
			t.Errorf("Traced(%q) = %v, want %v", path, got, want)
		}
	}
}
