package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// TestHandler_ServesMetrics はレジストリのメトリクスがテキスト形式で返ることを検証する。
func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordScrapeSuccess("leeds")

	handler := Handler(reg)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	if !strings.Contains(bodyStr, "regwatch_scrape_success_total") {
		t.Error("response should contain regwatch_scrape_success_total metric")
	}
}

// TestHandler_OnlyExposesGivenRegistry は指定したレジストリのメトリクスのみを公開することを検証する。
func TestHandler_OnlyExposesGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(prometheus.NewRegistry()).RecordScrapeSuccess("leeds")

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if strings.Contains(w.Body.String(), "regwatch_scrape_success_total") {
		t.Error("metrics from another registry should not be exposed")
	}
}
