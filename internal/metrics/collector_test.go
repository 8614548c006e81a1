package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCollector_CounterIsShared(t *testing.T) {
	c := NewMetricsCollector()
	a := c.Counter("test_total", "help")
	b := c.Counter("test_total", "help")
	a.Inc()
	b.Add(2)
	if a.Value() != 3 {
		t.Errorf("expected 3, got %d", a.Value())
	}
}

func TestCollector_Gauge(t *testing.T) {
	c := NewMetricsCollector()
	g := c.Gauge("test_gauge", "help")
	g.Inc()
	g.Inc()
	g.Dec()
	if g.Value() != 1 {
		t.Errorf("expected 1, got %d", g.Value())
	}
	g.Set(10)
	if g.Value() != 10 {
		t.Errorf("expected 10, got %d", g.Value())
	}
}

func TestCollector_HistogramBuckets(t *testing.T) {
	c := NewMetricsCollector()
	h := c.Histogram("test_seconds", "help", []float64{5, 1})
	h.Observe(0.5)
	h.Observe(3)
	h.Observe(10)

	var sb strings.Builder
	if _, err := c.WriteTo(&sb); err != nil {
		t.Fatal(err)
	}
	out := sb.String()
	for _, want := range []string{
		`test_seconds_bucket{le="1"} 1`,
		`test_seconds_bucket{le="5"} 2`,
		`test_seconds_bucket{le="+Inf"} 3`,
		`test_seconds_count 3`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("b_total", "second").Inc()
	c.Counter("a_total", "first").Inc()

	rr := httptest.NewRecorder()
	c.Handler()(rr, httptest.NewRequest("GET", "/metrics", nil))

	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("unexpected content type %q", ct)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "# TYPE a_total counter") {
		t.Errorf("missing counter type line:\n%s", body)
	}
	if strings.Index(body, "a_total") > strings.Index(body, "b_total") {
		t.Error("expected metrics sorted by name")
	}
	if !strings.Contains(body, "mezada_uptime_seconds") {
		t.Error("missing uptime gauge")
	}
}
