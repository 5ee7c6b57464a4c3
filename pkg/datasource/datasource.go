// Package datasource executes PromQL and serves identifier lookups, either against an
// in-memory store loaded from exposition text or against a remote Prometheus HTTP API.
package datasource

import (
	"context"
	"errors"
	"time"
)

// ErrLookupsDisabled is returned by lookups of a datasource configured without them.
var ErrLookupsDisabled = errors.New("lookups disabled")

// TimeWindow is the visible query range.
type TimeWindow struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// IsZero reports whether the window carries no range, meaning "instant query at now".
func (w TimeWindow) IsZero() bool { return w.From.IsZero() && w.To.IsZero() }

// LastWindow returns the window ending at now and spanning d.
func LastWindow(now time.Time, d time.Duration) TimeWindow {
	return TimeWindow{From: now.Add(-d), To: now}
}

// Step picks a resolution yielding roughly 250 points, never under a second.
func (w TimeWindow) Step() time.Duration {
	step := w.To.Sub(w.From) / 250
	if step < time.Second {
		return time.Second
	}
	return step.Truncate(time.Second)
}

// Point is one sample of a result series.
type Point struct {
	T int64   `json:"t"`
	V float64 `json:"v"`
}

// Series is one labelled result series.
type Series struct {
	Labels map[string]string `json:"labels"`
	Points []Point           `json:"points,omitempty"`
}

// MetricName returns the __name__ label of the series.
func (s Series) MetricName() string { return s.Labels["__name__"] }

// QueryError is an execution error reported alongside (possibly partial) results.
type QueryError struct {
	Message string `json:"message"`
}

// Data is the outcome of a query run.
type Data struct {
	Query  string       `json:"query"`
	Series []Series     `json:"series"`
	Errors []QueryError `json:"errors,omitempty"`
}

// Metadata describes a metric as reported by its exporter.
type Metadata struct {
	Type string `json:"type"`
	Help string `json:"help,omitempty"`
}

// Fix action types understood by ModifyQuery.
const (
	ActionAddRate              = "ADD_RATE"
	ActionAddHistogramQuantile = "ADD_HISTOGRAM_QUANTILE"
	ActionAddSum               = "ADD_SUM"
	ActionExpandRules          = "EXPAND_RULES"
)

// FixAction is the corrective rewrite attached to a hint.
type FixAction struct {
	Type    string            `json:"type"`
	Query   string            `json:"query"`
	Options map[string]string `json:"options,omitempty"`
}

// Lookup serves the identifiers a language provider bootstraps its catalog from.
type Lookup interface {
	MetricNames(ctx context.Context, w TimeWindow) ([]string, error)
	LabelNames(ctx context.Context, w TimeWindow) ([]string, error)
	LabelValues(ctx context.Context, name string, w TimeWindow) ([]string, error)
	Metadata(ctx context.Context) (map[string]Metadata, error)
	RecordingRules(ctx context.Context) (map[string]string, error)
}

// Datasource runs queries and applies hint fixes.
type Datasource interface {
	// Name identifies the datasource; a change of name means a different provider.
	Name() string
	LookupsDisabled() bool
	Lookup() Lookup
	// Run executes query over w. Execution problems are reported in Data.Errors; the
	// returned error is reserved for context cancellation.
	Run(ctx context.Context, query string, w TimeWindow) (*Data, error)
	ModifyQuery(query string, action FixAction) string
}
