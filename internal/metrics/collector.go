// Package metrics is a small Prometheus-compatible collector for the relay.
// It renders the text exposition format without pulling in client_golang.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide registry.
var Collector = NewMetricsCollector()

// MetricsCollector aggregates counters, gauges, and histograms.
type MetricsCollector struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
	startTime  time.Time
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
		startTime:  time.Now(),
	}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name  string
	help  string
	value atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name  string
	help  string
	value atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of observed values.
type Histogram struct {
	name    string
	help    string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Counter returns or creates a counter with the given name.
func (c *MetricsCollector) Counter(name, help string) *Counter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctr, ok := c.counters[name]; ok {
		return ctr
	}
	ctr := &Counter{name: name, help: help}
	c.counters[name] = ctr
	return ctr
}

// Gauge returns or creates a gauge with the given name.
func (c *MetricsCollector) Gauge(name, help string) *Gauge {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.gauges[name]; ok {
		return g
	}
	g := &Gauge{name: name, help: help}
	c.gauges[name] = g
	return g
}

// Histogram returns or creates a histogram with the given name and upper bounds.
func (c *MetricsCollector) Histogram(name, help string, buckets []float64) *Histogram {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.histograms[name]; ok {
		return h
	}
	bounds := append([]float64(nil), buckets...)
	sort.Float64s(bounds)
	hb := make([]histBucket, len(bounds))
	for i, b := range bounds {
		hb[i] = histBucket{le: b}
	}
	h := &Histogram{name: name, help: help, buckets: hb}
	c.histograms[name] = h
	return h
}

// WriteTo renders every metric in Prometheus text format, sorted by name.
func (c *MetricsCollector) WriteTo(w io.Writer) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cw := &countingWriter{w: w}
	fmt.Fprintf(cw, "# HELP mezada_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(cw, "# TYPE mezada_uptime_seconds gauge\n")
	fmt.Fprintf(cw, "mezada_uptime_seconds %d\n", int64(c.Uptime().Seconds()))

	for _, name := range sortedKeys(c.counters) {
		ctr := c.counters[name]
		fmt.Fprintf(cw, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, ctr.help, name, name, ctr.Value())
	}
	for _, name := range sortedKeys(c.gauges) {
		g := c.gauges[name]
		fmt.Fprintf(cw, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n", name, g.help, name, name, g.Value())
	}
	for _, name := range sortedKeys(c.histograms) {
		h := c.histograms[name]
		h.mu.Lock()
		fmt.Fprintf(cw, "# HELP %s %s\n# TYPE %s histogram\n", name, h.help, name)
		for _, b := range h.buckets {
			le := fmt.Sprintf("%g", b.le)
			if math.IsInf(b.le, 1) {
				le = "+Inf"
			}
			fmt.Fprintf(cw, "%s_bucket{le=\"%s\"} %d\n", name, le, b.count)
		}
		fmt.Fprintf(cw, "%s_bucket{le=\"+Inf\"} %d\n", name, h.count)
		fmt.Fprintf(cw, "%s_sum %f\n%s_count %d\n", name, h.sum, name, h.count)
		h.mu.Unlock()
	}
	return cw.n, cw.err
}

// Handler serves the metrics over HTTP.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		c.WriteTo(w)
	}
}

type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	if cw.err != nil {
		return 0, cw.err
	}
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	cw.err = err
	return n, err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Relay metrics.
var (
	InboundEvents    = Collector.Counter("mezada_inbound_events_total", "Webhook events received")
	InvalidEvents    = Collector.Counter("mezada_inbound_invalid_total", "Webhook events missing sender or body")
	WelcomesSent     = Collector.Counter("mezada_welcomes_sent_total", "Welcome messages sent to first-time senders")
	WelcomesFailed   = Collector.Counter("mezada_welcomes_failed_total", "Welcome messages that failed to send")
	UnitsDispatched  = Collector.Counter("mezada_units_dispatched_total", "Units accepted by the dispatcher")
	UnitsRejected    = Collector.Counter("mezada_units_rejected_total", "Units rejected because the queue was full or closed")
	GenerationErrors = Collector.Counter("mezada_generation_errors_total", "Units dropped after generation failed")
	LogWriteErrors   = Collector.Counter("mezada_log_write_errors_total", "Log appends that failed")
	ChunksSent       = Collector.Counter("mezada_chunks_sent_total", "Outbound chunks accepted by the transport")
	ChunksFailed     = Collector.Counter("mezada_chunks_failed_total", "Outbound chunks the transport rejected")
	QueueDepth       = Collector.Gauge("mezada_dispatch_queue_depth", "Units waiting for a worker")
	UnitsActive      = Collector.Gauge("mezada_dispatch_units_active", "Units currently running")

	GenerationLatency = Collector.Histogram("mezada_generation_latency_seconds", "Generation call latency in seconds",
		[]float64{0.5, 1, 2, 5, 10, 30, 60})
	DeliveryLatency = Collector.Histogram("mezada_delivery_latency_seconds", "Time to send every chunk of a reply",
		[]float64{0.5, 1, 2, 5, 10, 30})
)
