// Package metrics is a small Prometheus text-format registry.
package metrics

import (
	"fmt"
	"net/http"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

const Namespace = "taskflow"

type Opts struct {
	Name string
	Help string
}

func (o Opts) fullName() string {
	return Namespace + "_" + o.Name
}

type collector interface {
	name() string
	writeTo(*strings.Builder)
}

type Registry struct {
	mu         sync.RWMutex
	collectors map[string]collector
}

func NewRegistry() *Registry {
	return &Registry{collectors: map[string]collector{}}
}

func (r *Registry) MustRegister(items ...collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range items {
		name := item.name()
		if _, exists := r.collectors[name]; exists {
			panic("metrics collector already registered: " + name)
		}
		r.collectors[name] = item
	}
}

// Expose renders every collector in name order.
func (r *Registry) Expose() string {
	r.mu.RLock()
	names := make([]string, 0, len(r.collectors))
	for name := range r.collectors {
		names = append(names, name)
	}
	slices.Sort(names)
	items := make([]collector, 0, len(names))
	for _, name := range names {
		items = append(items, r.collectors[name])
	}
	r.mu.RUnlock()

	var sb strings.Builder
	for _, c := range items {
		c.writeTo(&sb)
	}
	return sb.String()
}

func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(r.Expose()))
	})
}

// NewProcessRegistry returns a registry preloaded with process gauges.
func NewProcessRegistry() *Registry {
	started := time.Now()
	r := NewRegistry()
	r.MustRegister(
		NewGaugeFunc(Opts{Name: "uptime_seconds", Help: "Seconds since process start."}, func() float64 {
			return time.Since(started).Seconds()
		}),
		NewGaugeFunc(Opts{Name: "goroutines", Help: "Number of goroutines."}, func() float64 {
			return float64(runtime.NumGoroutine())
		}),
		NewGaugeFunc(Opts{Name: "heap_alloc_bytes", Help: "Allocated heap objects in bytes."}, func() float64 {
			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			return float64(mem.Alloc)
		}),
	)
	return r
}

type Gauge struct {
	opts  Opts
	mu    sync.Mutex
	value float64
}

func NewGauge(opts Opts) *Gauge {
	return &Gauge{opts: opts}
}

func (g *Gauge) name() string { return g.opts.fullName() }

func (g *Gauge) Add(v float64) {
	g.mu.Lock()
	g.value += v
	g.mu.Unlock()
}

func (g *Gauge) Inc() { g.Add(1) }
func (g *Gauge) Dec() { g.Add(-1) }

func (g *Gauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

func (g *Gauge) writeTo(sb *strings.Builder) {
	writeHead(sb, g.name(), "gauge", g.opts.Help)
	fmt.Fprintf(sb, "%s %s\n", g.name(), formatFloat(g.Value()))
}

type GaugeFunc struct {
	opts Opts
	fn   func() float64
}

func NewGaugeFunc(opts Opts, fn func() float64) *GaugeFunc {
	return &GaugeFunc{opts: opts, fn: fn}
}

func (g *GaugeFunc) name() string { return g.opts.fullName() }

func (g *GaugeFunc) writeTo(sb *strings.Builder) {
	writeHead(sb, g.name(), "gauge", g.opts.Help)
	fmt.Fprintf(sb, "%s %s\n", g.name(), formatFloat(g.fn()))
}

// CounterVec is a counter partitioned by a fixed set of labels.
type CounterVec struct {
	opts       Opts
	labelNames []string

	mu     sync.Mutex
	values map[string]float64
}

func NewCounterVec(opts Opts, labelNames ...string) *CounterVec {
	return &CounterVec{
		opts:       opts,
		labelNames: slices.Clone(labelNames),
		values:     map[string]float64{},
	}
}

func (c *CounterVec) name() string { return c.opts.fullName() }

// Inc adds one to the series identified by labelValues. A mismatched label count is ignored.
func (c *CounterVec) Inc(labelValues ...string) {
	if len(labelValues) != len(c.labelNames) {
		return
	}
	key := strings.Join(labelValues, "\xff")
	c.mu.Lock()
	c.values[key]++
	c.mu.Unlock()
}

// Value returns the current count of one series.
func (c *CounterVec) Value(labelValues ...string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[strings.Join(labelValues, "\xff")]
}

func (c *CounterVec) writeTo(sb *strings.Builder) {
	writeHead(sb, c.name(), "counter", c.opts.Help)

	c.mu.Lock()
	keys := make([]string, 0, len(c.values))
	for key := range c.values {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	values := make([]float64, len(keys))
	for i, key := range keys {
		values[i] = c.values[key]
	}
	c.mu.Unlock()

	for i, key := range keys {
		labelValues := strings.Split(key, "\xff")
		sb.WriteString(c.name())
		sb.WriteString("{")
		for idx, labelName := range c.labelNames {
			if idx > 0 {
				sb.WriteString(",")
			}
			fmt.Fprintf(sb, `%s="%s"`, labelName, escapeLabelValue(labelValues[idx]))
		}
		sb.WriteString("} ")
		sb.WriteString(formatFloat(values[i]))
		sb.WriteString("\n")
	}
}

func writeHead(sb *strings.Builder, name, metricType, help string) {
	fmt.Fprintf(sb, "# HELP %s %s\n", name, help)
	fmt.Fprintf(sb, "# TYPE %s %s\n", name, metricType)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func escapeLabelValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, "\n", `\n`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return v
}
