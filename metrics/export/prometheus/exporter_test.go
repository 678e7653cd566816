package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/junoyi/authkit"
)

type fakeSource struct {
	snapshot authkit.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authkit.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                     { return f.dropped }

func scrape(t *testing.T, src metricsSource) string {
	t.Helper()
	exp, err := NewExporter(src)
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}

	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected text exposition content type, got %q", got)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestCollectEmptyWhenMetricsDisabled(t *testing.T) {
	out := scrape(t, fakeSource{
		snapshot: authkit.MetricsSnapshot{
			Counters:   map[authkit.MetricID]uint64{},
			Histograms: map[authkit.MetricID][]uint64{},
		},
	})
	if strings.Contains(out, "authkit_") {
		t.Fatalf("expected no authkit series for disabled metrics, got:\n%s", out)
	}
}

func TestCollectIncludesCounterAndHistogram(t *testing.T) {
	out := scrape(t, fakeSource{
		snapshot: authkit.MetricsSnapshot{
			Counters: map[authkit.MetricID]uint64{
				authkit.MetricLogin: 7,
			},
			Histograms: map[authkit.MetricID][]uint64{
				authkit.MetricRequestLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	for _, want := range []string{
		"authkit_login_total 7",
		"authkit_retry_total 0",
		`authkit_request_latency_seconds_bucket{le="0.005"} 1`,
		`authkit_request_latency_seconds_bucket{le="+Inf"} 36`,
		"authkit_request_latency_seconds_count 36",
		"authkit_audit_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
	if strings.Contains(out, "authkit_refresh_latency_seconds") {
		t.Fatalf("histogram absent from snapshot should not be exported:\n%s", out)
	}
}

func TestCollectorRegistersWithCallerRegistry(t *testing.T) {
	reg := prom.NewRegistry()
	c := NewCollector(fakeSource{
		snapshot: authkit.MetricsSnapshot{
			Counters:   map[authkit.MetricID]uint64{authkit.MetricRequest: 3},
			Histograms: map[authkit.MetricID][]uint64{},
		},
	})
	if err := reg.Register(c); err != nil {
		t.Fatalf("register: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "authkit_request_total" {
			found = true
			if got := mf.GetMetric()[0].GetCounter().GetValue(); got != 3 {
				t.Fatalf("authkit_request_total = %v, want 3", got)
			}
		}
	}
	if !found {
		t.Fatalf("authkit_request_total not gathered")
	}
}

func TestCollectFromClient(t *testing.T) {
	c, err := authkit.New().WithBaseURL("http://127.0.0.1:1", "").Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer c.Close()
	c.Metrics().Inc(authkit.MetricForcedLogout)

	out := scrape(t, c)
	if !strings.Contains(out, "authkit_forced_logout_total 1") {
		t.Fatalf("expected forced logout counter, got:\n%s", out)
	}
}

func BenchmarkCollect(b *testing.B) {
	exp, err := NewExporter(fakeSource{
		snapshot: authkit.MetricsSnapshot{
			Counters: map[authkit.MetricID]uint64{
				authkit.MetricRequest:        1000,
				authkit.MetricRequestFailure: 40,
				authkit.MetricRefreshSuccess: 800,
				authkit.MetricRefreshFailure: 10,
				authkit.MetricUnauthorized:   20,
			},
			Histograms: map[authkit.MetricID][]uint64{
				authkit.MetricRequestLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})
	if err != nil {
		b.Fatalf("new exporter: %v", err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := exp.Registry().Gather(); err != nil {
			b.Fatal(err)
		}
	}
}
