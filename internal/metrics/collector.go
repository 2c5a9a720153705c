// Package metrics is a small Prometheus-exposition-format collector for the
// relay: counters and gauges only, no client_golang dependency.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector aggregates named counters and gauges.
type Collector struct {
	mu        sync.Mutex
	counters  map[string]*Counter
	gauges    map[string]*Gauge
	startTime time.Time
}

func NewCollector() *Collector {
	return &Collector{
		counters:  make(map[string]*Counter),
		gauges:    make(map[string]*Gauge),
		startTime: time.Now(),
	}
}

// Counter is a monotonically increasing counter.
type Counter struct {
	help  string
	value atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	help  string
	value atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Counter returns the counter registered under name, creating it on first
// use.
func (c *Collector) Counter(name, help string) *Counter {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.counters[name]; ok {
		return existing
	}
	counter := &Counter{help: help}
	c.counters[name] = counter
	return counter
}

// Gauge returns the gauge registered under name, creating it on first use.
func (c *Collector) Gauge(name, help string) *Gauge {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.gauges[name]; ok {
		return existing
	}
	gauge := &Gauge{help: help}
	c.gauges[name] = gauge
	return gauge
}

// Render writes all metrics in Prometheus text exposition format, sorted by
// name for stable output.
func (c *Collector) Render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var sb strings.Builder

	names := make([]string, 0, len(c.counters))
	for name := range c.counters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		counter := c.counters[name]
		fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s counter\n%s %d\n",
			name, counter.help, name, name, counter.Value())
	}

	names = names[:0]
	for name := range c.gauges {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		gauge := c.gauges[name]
		fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n",
			name, gauge.help, name, name, gauge.Value())
	}

	fmt.Fprintf(&sb, "# HELP voicebot_uptime_seconds Process uptime.\n# TYPE voicebot_uptime_seconds gauge\nvoicebot_uptime_seconds %d\n",
		int64(time.Since(c.startTime).Seconds()))
	return sb.String()
}

// Handler serves the exposition endpoint.
func (c *Collector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		fmt.Fprint(w, c.Render())
	})
}
