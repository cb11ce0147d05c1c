package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// ---- lightweight metric primitives (Prometheus exposition) ----

// series is a labelled counter or gauge family.
type series struct {
	name       string
	help       string
	kind       string
	labelNames []string
	mu         sync.RWMutex
	values     map[string]float64
}

func newSeries(kind, name, help string, labels []string) *series {
	return &series{name: name, help: help, kind: kind, labelNames: labels, values: map[string]float64{}}
}

func (s *series) add(v float64, values ...string) {
	if s == nil {
		return
	}
	lbl := labelString(s.labelNames, values)
	s.mu.Lock()
	s.values[lbl] += v
	s.mu.Unlock()
}

func (s *series) set(v float64, values ...string) {
	if s == nil {
		return
	}
	lbl := labelString(s.labelNames, values)
	s.mu.Lock()
	s.values[lbl] = v
	s.mu.Unlock()
}

func (s *series) get(values ...string) float64 {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[labelString(s.labelNames, values)]
}

func (s *series) WritePrometheus(w io.Writer) error {
	if s == nil {
		return nil
	}
	if err := writeHeader(w, s.name, s.help, s.kind); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range sortedKeys(s.values) {
		if _, err := fmt.Fprintf(w, "%s%s %g\n", s.name, k, s.values[k]); err != nil {
			return err
		}
	}
	return nil
}

// CounterVec only goes up.
type CounterVec struct{ s *series }

func NewCounterVec(name, help string, labels []string) *CounterVec {
	return &CounterVec{s: newSeries("counter", name, help, labels)}
}

func (c *CounterVec) Inc(values ...string)            { c.s.add(1, values...) }
func (c *CounterVec) Add(v float64, values ...string) { c.s.add(v, values...) }
func (c *CounterVec) Value(values ...string) float64  { return c.s.get(values...) }
func (c *CounterVec) WritePrometheus(w io.Writer) error {
	return c.s.WritePrometheus(w)
}

type GaugeVec struct{ s *series }

func NewGaugeVec(name, help string, labels []string) *GaugeVec {
	return &GaugeVec{s: newSeries("gauge", name, help, labels)}
}

func (g *GaugeVec) Set(v float64, values ...string) { g.s.set(v, values...) }
func (g *GaugeVec) Add(v float64, values ...string) { g.s.add(v, values...) }
func (g *GaugeVec) Value(values ...string) float64  { return g.s.get(values...) }
func (g *GaugeVec) WritePrometheus(w io.Writer) error {
	return g.s.WritePrometheus(w)
}

type HistogramVec struct {
	name       string
	help       string
	labelNames []string
	buckets    []float64
	mu         sync.RWMutex
	values     map[string]*histogram
}

type histogram struct {
	counts []uint64
	sum    float64
	total  uint64
}

func NewHistogramVec(name, help string, labels []string, buckets []float64) *HistogramVec {
	if len(buckets) == 0 {
		buckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}
	}
	return &HistogramVec{name: name, help: help, labelNames: labels, buckets: buckets, values: map[string]*histogram{}}
}

func (h *HistogramVec) Observe(v float64, values ...string) {
	if h == nil {
		return
	}
	lbl := labelString(h.labelNames, values)
	h.mu.Lock()
	defer h.mu.Unlock()
	hist, ok := h.values[lbl]
	if !ok {
		hist = &histogram{counts: make([]uint64, len(h.buckets))}
		h.values[lbl] = hist
	}
	hist.sum += v
	hist.total++
	for i, b := range h.buckets {
		if v <= b {
			hist.counts[i]++
		}
	}
}

func (h *HistogramVec) Count(values ...string) uint64 {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if hist, ok := h.values[labelString(h.labelNames, values)]; ok {
		return hist.total
	}
	return 0
}

func (h *HistogramVec) WritePrometheus(w io.Writer) error {
	if h == nil {
		return nil
	}
	if err := writeHeader(w, h.name, h.help, "histogram"); err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, k := range sortedKeys(h.values) {
		v := h.values[k]
		for i, b := range h.buckets {
			if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, withLe(k, fmt.Sprintf("%g", b)), v.counts[i]); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, withLe(k, "+Inf"), v.total); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s_sum%s %g\n%s_count%s %d\n", h.name, k, v.sum, h.name, k, v.total); err != nil {
			return err
		}
	}
	return nil
}

func writeHeader(w io.Writer, name, help, kind string) error {
	_, err := fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
	return err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func labelString(names []string, values []string) string {
	if len(names) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("{")
	for i, name := range names {
		if i > 0 {
			b.WriteString(",")
		}
		val := "unknown"
		if i < len(values) && values[i] != "" {
			val = values[i]
		}
		b.WriteString(name)
		b.WriteString("=\"")
		b.WriteString(escapeLabel(val))
		b.WriteString("\"")
	}
	b.WriteString("}")
	return b.String()
}

func escapeLabel(v string) string {
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	return strings.ReplaceAll(v, "\n", "\\n")
}

func withLe(labels string, le string) string {
	le = escapeLabel(le)
	if labels == "" || labels == "{}" {
		return "{le=\"" + le + "\"}"
	}
	return strings.TrimSuffix(labels, "}") + ",le=\"" + le + "\"}"
}
