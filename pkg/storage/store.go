// Package storage is an in-memory series store loaded from Prometheus exposition text.
// It backs the local datasource: the PromQL engine queries it, and catalog lookups read
// metric names, label names and label values straight from it.
package storage

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"
)

// Store holds samples grouped by metric name.
type Store struct {
	mu      sync.RWMutex
	metrics map[string][]Sample
	help    map[string]string // metric name -> help text
	types   map[string]string // metric name -> counter|gauge|histogram|summary|untyped
}

// Sample is a single labelled value.
type Sample struct {
	Labels    map[string]string
	Value     float64
	Timestamp int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		metrics: make(map[string][]Sample),
		help:    make(map[string]string),
		types:   make(map[string]string),
	}
}

// SampleMetrics is a small exposition set with a counter, a histogram and a gauge.
const SampleMetrics = `
# HELP http_requests_total Total number of HTTP requests
# TYPE http_requests_total counter
http_requests_total{method="get",code="200",job="api"} 1027
http_requests_total{method="get",code="404",job="api"} 3
http_requests_total{method="post",code="500",job="api"} 12
# HELP http_request_duration_seconds Request latency
# TYPE http_request_duration_seconds histogram
http_request_duration_seconds_bucket{job="api",le="0.1"} 800
http_request_duration_seconds_bucket{job="api",le="1"} 1000
http_request_duration_seconds_bucket{job="api",le="+Inf"} 1042
http_request_duration_seconds_sum{job="api"} 93.2
http_request_duration_seconds_count{job="api"} 1042
# HELP temperature Temperature in Celsius
# TYPE temperature gauge
temperature{room="server",job="sensors"} 27.3
`

// dedupeDirectives drops repeated "# HELP" and "# TYPE" lines for the same metric, keeping
// the last one. The upstream parser rejects duplicates within one input.
func dedupeDirectives(data []byte) string {
	lines := strings.Split(string(data), "\n")
	keep := make([]bool, len(lines))
	seen := map[string]bool{}
	for i := len(lines) - 1; i >= 0; i-- {
		keep[i] = true
		line := strings.TrimSpace(lines[i])
		for _, directive := range []string{"# HELP ", "# TYPE "} {
			if !strings.HasPrefix(line, directive) {
				continue
			}
			fields := strings.Fields(line[len(directive):])
			if len(fields) == 0 {
				break
			}
			key := directive + fields[0]
			if seen[key] {
				keep[i] = false
			}
			seen[key] = true
		}
	}
	out := make([]string, 0, len(lines))
	for i, line := range lines {
		if keep[i] {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// LoadFromReader parses exposition text and appends its samples.
func (s *Store) LoadFromReader(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read metrics: %w", err)
	}
	parser := expfmt.NewTextParser(model.UTF8Validation)
	families, err := parser.TextToMetricFamilies(strings.NewReader(dedupeDirectives(data)))
	if err != nil && len(families) == 0 {
		return fmt.Errorf("failed to parse metrics: %w", err)
	}
	s.addFamilies(families, time.Now().UnixMilli())
	return nil
}

func (s *Store) addFamilies(families map[string]*dto.MetricFamily, now int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, mf := range families {
		name := mf.GetName()
		if help := strings.TrimSpace(strings.ReplaceAll(mf.GetHelp(), "\n", " ")); help != "" {
			s.help[name] = help
		}
		s.types[name] = strings.ToLower(mf.GetType().String())

		for _, m := range mf.GetMetric() {
			lbls := map[string]string{"__name__": name}
			for _, lp := range m.GetLabel() {
				lbls[lp.GetName()] = lp.GetValue()
			}
			ts := now
			if m.GetTimestampMs() != 0 {
				ts = m.GetTimestampMs()
			}

			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				s.append(name, lbls, m.GetCounter().GetValue(), ts)
			case dto.MetricType_GAUGE:
				s.append(name, lbls, m.GetGauge().GetValue(), ts)
			case dto.MetricType_UNTYPED:
				s.append(name, lbls, m.GetUntyped().GetValue(), ts)
			case dto.MetricType_HISTOGRAM:
				h := m.GetHistogram()
				for _, b := range h.GetBucket() {
					s.append(name+"_bucket", withLabel(lbls, "le", fmt.Sprintf("%g", b.GetUpperBound())), float64(b.GetCumulativeCount()), ts)
				}
				s.append(name+"_sum", lbls, h.GetSampleSum(), ts)
				s.append(name+"_count", lbls, float64(h.GetSampleCount()), ts)
				s.types[name+"_bucket"] = "histogram"
			case dto.MetricType_SUMMARY:
				sm := m.GetSummary()
				for _, q := range sm.GetQuantile() {
					s.append(name, withLabel(lbls, "quantile", fmt.Sprintf("%g", q.GetQuantile())), q.GetValue(), ts)
				}
				s.append(name+"_sum", lbls, sm.GetSampleSum(), ts)
				s.append(name+"_count", lbls, float64(sm.GetSampleCount()), ts)
			}
		}
	}
}

// append must be called with s.mu held.
func (s *Store) append(name string, lbls map[string]string, v float64, ts int64) {
	if lbls["__name__"] != name {
		lbls = withLabel(lbls, "__name__", name)
	}
	s.metrics[name] = append(s.metrics[name], Sample{Labels: lbls, Value: v, Timestamp: ts})
}

func withLabel(lbls map[string]string, k, v string) map[string]string {
	out := make(map[string]string, len(lbls)+1)
	for lk, lv := range lbls {
		out[lk] = lv
	}
	out[k] = v
	return out
}

// AddSample appends a single sample, copying the label map.
func (s *Store) AddSample(lbls map[string]string, v float64, ts int64) {
	name := lbls["__name__"]
	if name == "" {
		name = "query_result"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.append(name, withLabel(lbls, "__name__", name), v, ts)
}

// MetricNames returns the sorted metric names held by the store.
func (s *Store) MetricNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.metrics))
	for name := range s.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Help returns the help text of a metric, if any.
func (s *Store) Help(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.help[name]
}

// Type returns the declared type of a metric, or "" when unknown.
func (s *Store) Type(name string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.types[name]
}

// Samples returns the number of samples stored across all metrics.
func (s *Store) Samples() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, ss := range s.metrics {
		n += len(ss)
	}
	return n
}
