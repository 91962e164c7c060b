package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.RequestsTotal.WithLabelValues("tasks.list", "success").Inc()
	metrics.RateLimitRejectionsTotal.WithLabelValues("VIEWER").Inc()
	metrics.PolicyDenialsTotal.WithLabelValues("NOT_PROJECT_MEMBER").Add(2)
	metrics.SessionsActive.Set(3)

	if got := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("tasks.list", "success")); got != 1 {
		t.Errorf("Expected 1 request, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.PolicyDenialsTotal.WithLabelValues("NOT_PROJECT_MEMBER")); got != 2 {
		t.Errorf("Expected 2 denials, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.SessionsActive); got != 3 {
		t.Errorf("Expected 3 sessions, got %v", got)
	}

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"sitegate_requests_total",
		"sitegate_rate_limit_rejections_total",
		"sitegate_policy_denials_total",
		"sitegate_sessions_active",
	} {
		if !names[want] {
			t.Errorf("Expected metric %s to be registered", want)
		}
	}
}

func TestMetrics_CacheObserver(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	observe := metrics.CacheObserver("membership")

	observe(true)
	observe(true)
	observe(false)

	if got := testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("membership")); got != 2 {
		t.Errorf("Expected 2 hits, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.CacheMissesTotal.WithLabelValues("membership")); got != 1 {
		t.Errorf("Expected 1 miss, got %v", got)
	}
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(metrics))
	router.HandleFunc("/api/v1/projects/{projectId}/tasks", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, project := range []string{"p1", "p2"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/projects/"+project+"/tasks", nil)
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	got := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/projects/{projectId}/tasks", "418"))
	if got != 2 {
		t.Errorf("Expected both requests under the route template, got %v", got)
	}
}

func TestMetricsHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.SessionsActive.Set(7)

	rr := httptest.NewRecorder()
	MetricsHandler(registry).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, _ := io.ReadAll(rr.Body)
	if !strings.Contains(string(body), "sitegate_sessions_active 7") {
		t.Errorf("Expected gauge in exposition output, got:\n%s", body)
	}
}
