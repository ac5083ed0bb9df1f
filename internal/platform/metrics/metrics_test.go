package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, m *Metrics, update func()) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler(update).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape: got status %d", rec.Code)
	}
	return rec.Body.String()
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.IncTierSwitch("bandwidth")
	m.IncTierSwitch("bandwidth")
	m.IncTierSwitch("manual")
	m.IncSessionError("transport_error")
	m.IncBufferingEvent()
	m.IncStaleEvent()
	m.IncSegmentLoad()
	m.ObserveBandwidth(1_500_000)

	body := scrape(t, m, func() { m.SetActiveSessions(3) })

	for _, want := range []string{
		`tunestream_tier_switches_total{reason="bandwidth"} 2`,
		`tunestream_tier_switches_total{reason="manual"} 1`,
		`tunestream_session_errors_total{kind="transport_error"} 1`,
		`tunestream_buffering_events_total 1`,
		`tunestream_stale_events_total 1`,
		`tunestream_segment_loads_total 1`,
		`tunestream_bandwidth_estimate_bps_count 1`,
		`tunestream_active_sessions 3`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape output missing %q", want)
		}
	}
}

func TestRequestMiddleware(t *testing.T) {
	m := New()
	h := RequestMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/ok", "/missing", "/ok"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	body := scrape(t, m, nil)
	if !strings.Contains(body, "tunestream_requests_total 3") {
		t.Error("expected 3 requests")
	}
	if !strings.Contains(body, "tunestream_errors_total 1") {
		t.Error("expected 1 error")
	}
}
