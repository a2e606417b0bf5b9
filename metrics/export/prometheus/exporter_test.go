package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MrEthical07/tenantauth"
)

type fakeSource struct {
	snapshot tenantauth.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() tenantauth.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                        { return f.dropped }

func TestCollectorGathersCountersAndHistogram(t *testing.T) {
	c := NewCollectorFromSource(fakeSource{
		snapshot: tenantauth.MetricsSnapshot{
			Counters: map[tenantauth.MetricID]uint64{
				tenantauth.MetricLoginSuccess: 7,
				tenantauth.MetricQuotaDenied:  2,
			},
			Histograms: map[tenantauth.MetricID][]uint64{
				tenantauth.MetricLoginLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
			HistogramSums: map[tenantauth.MetricID]float64{
				tenantauth.MetricLoginLatency: 12.5,
			},
		},
		dropped: 3,
	})

	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("register: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	found := map[string]bool{}
	for _, mf := range families {
		found[mf.GetName()] = true
		m := mf.GetMetric()[0]
		switch mf.GetName() {
		case "tenantauth_login_success_total":
			if got := m.GetCounter().GetValue(); got != 7 {
				t.Fatalf("login success = %v", got)
			}
		case "tenantauth_audit_dropped_total":
			if got := m.GetCounter().GetValue(); got != 3 {
				t.Fatalf("audit dropped = %v", got)
			}
		case "tenantauth_login_latency_seconds":
			h := m.GetHistogram()
			if h.GetSampleCount() != 36 {
				t.Fatalf("sample count = %d", h.GetSampleCount())
			}
			if h.GetSampleSum() != 12.5 {
				t.Fatalf("sample sum = %v", h.GetSampleSum())
			}
			if first := h.GetBucket()[0]; first.GetUpperBound() != 0.025 || first.GetCumulativeCount() != 1 {
				t.Fatalf("first bucket = %v/%d", first.GetUpperBound(), first.GetCumulativeCount())
			}
		}
	}
	for _, name := range []string{"tenantauth_login_success_total", "tenantauth_quota_denied_total", "tenantauth_login_latency_seconds", "tenantauth_audit_dropped_total"} {
		if !found[name] {
			t.Fatalf("missing metric family %s", name)
		}
	}
}

func TestCollectorSkipsDisabledHistogram(t *testing.T) {
	c := NewCollectorFromSource(fakeSource{snapshot: tenantauth.MetricsSnapshot{
		Counters:   map[tenantauth.MetricID]uint64{},
		Histograms: map[tenantauth.MetricID][]uint64{},
	}})
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		t.Fatalf("register: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == "tenantauth_login_latency_seconds" {
			t.Fatal("histogram must be absent when latency is disabled")
		}
	}
}

func TestHandlerServesTextFormat(t *testing.T) {
	c := NewCollectorFromSource(fakeSource{snapshot: tenantauth.MetricsSnapshot{
		Counters: map[tenantauth.MetricID]uint64{tenantauth.MetricLogout: 4},
	}})
	h, err := c.Handler()
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "tenantauth_logout_total 4") {
		t.Fatalf("expected logout counter in output, got:\n%s", rec.Body.String())
	}
}
