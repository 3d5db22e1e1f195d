package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsMiddlewareCountsRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Metrics)
	r.Get("/v1/ndc/{code}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.ToFloat64(HTTPRequestTotals.WithLabelValues("GET", "/v1/ndc/{code}", "404"))

	for _, code := range []string{"1", "2", "3"} {
		req := httptest.NewRequest("GET", "/v1/ndc/"+code, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
	}

	after := testutil.ToFloat64(HTTPRequestTotals.WithLabelValues("GET", "/v1/ndc/{code}", "404"))
	if after-before != 3 {
		t.Errorf("Expected 3 requests counted under the route pattern, got %v", after-before)
	}
	if got := testutil.ToFloat64(HTTPRequestInFlight); got != 0 {
		t.Errorf("Expected no in-flight requests, got %v", got)
	}
}

func TestMetricsMiddlewareWithoutRouter(t *testing.T) {
	handler := Metrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	before := testutil.ToFloat64(HTTPRequestTotals.WithLabelValues("GET", "unmatched", "200"))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/anything", nil))
	after := testutil.ToFloat64(HTTPRequestTotals.WithLabelValues("GET", "unmatched", "200"))

	if after-before != 1 {
		t.Errorf("Expected 1 unmatched request, got %v", after-before)
	}
}

func TestObserveRun(t *testing.T) {
	ObserveRun(time.Now().Add(-2 * time.Second))
	if got := testutil.CollectAndCount(RunDuration); got != 1 {
		t.Errorf("Expected a single histogram series, got %d", got)
	}
}
