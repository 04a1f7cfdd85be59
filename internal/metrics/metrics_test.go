package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/alanyoungcy/mevsim/internal/metrics"
)

func TestCounterAndGauge(t *testing.T) {
	reg := metrics.New("mevsim")

	c := reg.Counter("blocks_processed_total", "Blocks processed.", nil)
	c.Inc()
	c.Add(5)

	g := reg.Gauge("total_profit_eth", "Total profit.", metrics.Labels{"strategy": "arbitrage"})
	g.Set(10)
	g.Add(5)
	g.Add(-3)

	if n, err := testutil.GatherAndCount(reg.Gatherer(), "mevsim_blocks_processed_total"); err != nil || n != 1 {
		t.Fatalf("count = %d, err = %v", n, err)
	}

	// Same name and labels return the same series.
	reg.Counter("blocks_processed_total", "Blocks processed.", nil).Inc()

	body := scrape(t, reg)
	if !strings.Contains(body, "mevsim_blocks_processed_total 7") {
		t.Errorf("counter value missing:\n%s", body)
	}
	if !strings.Contains(body, `mevsim_total_profit_eth{strategy="arbitrage"} 12`) {
		t.Errorf("gauge value missing:\n%s", body)
	}
}

func TestHistogramDefaultBuckets(t *testing.T) {
	reg := metrics.New("mevsim")
	h := reg.Histogram("detection_latency_seconds", "Detection latency.", nil, nil)
	h.Observe(1)
	h.Observe(2)
	h.Observe(3)

	body := scrape(t, reg)
	for _, want := range []string{
		"mevsim_detection_latency_seconds_count 3",
		"mevsim_detection_latency_seconds_sum 6",
		`mevsim_detection_latency_seconds_bucket{le="0.005"} 0`,
		`mevsim_detection_latency_seconds_bucket{le="2.5"} 2`,
		`mevsim_detection_latency_seconds_bucket{le="10"} 3`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in:\n%s", want, body)
		}
	}
}

func TestIsolatedRegistries(t *testing.T) {
	a := metrics.New("mevsim")
	b := metrics.New("mevsim")
	a.Counter("ticks_total", "Ticks.", nil).Inc()
	b.Counter("ticks_total", "Ticks.", nil).Add(3)

	if !strings.Contains(scrape(t, a), "mevsim_ticks_total 1") {
		t.Error("registry a polluted")
	}
	if !strings.Contains(scrape(t, b), "mevsim_ticks_total 3") {
		t.Error("registry b polluted")
	}
}

func TestNopSink(t *testing.T) {
	s := metrics.Nop()
	s.Counter("x", "", nil).Inc()
	s.Gauge("y", "", nil).Set(1)
	s.Histogram("z", "", nil, nil).Observe(1)
}

func scrape(t *testing.T, reg *metrics.Registry) string {
	t.Helper()
	srv := httptest.NewServer(reg.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}
