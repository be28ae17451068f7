package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func scrape(t *testing.T) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsHandler_Smoke(t *testing.T) {
	ExposeBuildInfo("test")
	ObserveHTTP("GET", "/api/pois", 200, 0.001)

	body := scrape(t)
	if !strings.Contains(body, "app_build_info") {
		t.Fatalf("metrics payload missing app_build_info; got:\n%s", body)
	}
	if !strings.Contains(body, `http_requests_total{method="GET",route="/api/pois",status="200"}`) {
		t.Fatalf("metrics payload missing http_requests_total sample; got:\n%s", body)
	}
}

func TestGatewayMetrics_Recorded(t *testing.T) {
	IncCacheHit("static")
	IncCacheMiss("tile")
	IncStrategyServed("cache_first", "cache")
	ObserveBatchFlush("good", 6)
	IncBatchRetry()
	SetSyncQueueDepth("pending", 3)
	IncSyncResult("completed")
	ObserveProbe(0.120, 8.5)
	SetNetTier("good", []string{"poor", "moderate", "good", "excellent"})
	IncPreloadResult("tile", "warmed")
	ObserveInvalidation("update", nil)

	body := scrape(t)
	want := []string{
		`cache_results_total{class="static",outcome="hit"}`,
		`cache_results_total{class="tile",outcome="miss"}`,
		`strategy_served_total{source="cache",strategy="cache_first"}`,
		`batch_flushes_total{tier="good"}`,
		`batch_retries_total`,
		`sync_queue_depth{status="pending"} 3`,
		`sync_results_total{outcome="completed"}`,
		`netquality_rtt_seconds 0.12`,
		`netquality_tier{tier="good"} 1`,
		`netquality_tier{tier="poor"} 0`,
		`preload_results_total{outcome="warmed",type="tile"}`,
		`invalidations_total{op="update",status="ok"}`,
	}
	for _, s := range want {
		if !strings.Contains(body, s) {
			t.Fatalf("metrics payload missing %q; got:\n%s", s, body)
		}
	}
}
