package language

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/prometheus/promql/parser"

	"github.com/jjo/promql-assist/pkg/datasource"
)

// maxBootstrapLabels bounds how many label names get their values fetched eagerly.
const maxBootstrapLabels = 50

const maxHistorySuggestions = 5

var rangeDurations = []string{"1m", "5m", "10m", "30m", "1h", "1d"}

// PromQL is the Provider backed by a datasource lookup.
type PromQL struct {
	lookup datasource.Lookup
	logger *slog.Logger

	mu          sync.RWMutex
	window      datasource.TimeWindow
	metrics     []string
	labelNames  []string
	labelValues map[string][]string
	metadata    map[string]datasource.Metadata
	rules       map[string]string
}

// NewPromQL returns a provider reading identifiers through lookup.
func NewPromQL(lookup datasource.Lookup, logger *slog.Logger) *PromQL {
	if logger == nil {
		logger = slog.Default()
	}
	return &PromQL{
		lookup:      lookup,
		logger:      logger.With("component", "language"),
		labelValues: map[string][]string{},
		metadata:    map[string]datasource.Metadata{},
		rules:       map[string]string{},
	}
}

// SetRange scopes subsequent lookups to w.
func (p *PromQL) SetRange(w datasource.TimeWindow) {
	p.mu.Lock()
	p.window = w
	p.mu.Unlock()
}

func (p *PromQL) currentWindow() datasource.TimeWindow {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.window
}

// Bootstrap returns the metric-name, label, metadata and recording-rule loads. Each task
// publishes its own slice of state on success, unless its context has ended by then: a
// superseded load must not overwrite what the load replacing it publishes.
func (p *PromQL) Bootstrap(ctx context.Context) ([]Task, error) {
	if p.lookup == nil {
		return nil, errors.New("language provider has no lookup")
	}
	w := p.currentWindow()
	tasks := []Task{
		func(ctx context.Context) error {
			names, err := p.lookup.MetricNames(ctx, w)
			if err != nil {
				return ignoreDisabled(fmt.Errorf("load metric names: %w", err))
			}
			return p.publish(ctx, func() { p.metrics = names })
		},
		func(ctx context.Context) error {
			return ignoreDisabled(p.loadLabels(ctx, w))
		},
		func(ctx context.Context) error {
			md, err := p.lookup.Metadata(ctx)
			if err != nil {
				// Older servers lack the metadata endpoint; hints degrade to name heuristics.
				p.logger.Debug("metadata unavailable", "error", err)
				return nil
			}
			return p.publish(ctx, func() { p.metadata = md })
		},
		func(ctx context.Context) error {
			rules, err := p.lookup.RecordingRules(ctx)
			if err != nil {
				p.logger.Debug("recording rules unavailable", "error", err)
				return nil
			}
			return p.publish(ctx, func() { p.rules = rules })
		},
	}
	return tasks, nil
}

func (p *PromQL) loadLabels(ctx context.Context, w datasource.TimeWindow) error {
	names, err := p.lookup.LabelNames(ctx, w)
	if err != nil {
		return fmt.Errorf("load label names: %w", err)
	}
	values := make(map[string][]string, len(names))
	for i, name := range names {
		if i >= maxBootstrapLabels {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		vals, err := p.lookup.LabelValues(ctx, name, w)
		if err != nil {
			return fmt.Errorf("load values of %s: %w", name, err)
		}
		values[name] = vals
	}
	return p.publish(ctx, func() {
		p.labelNames = names
		p.labelValues = values
	})
}

// publish runs set under the write lock when ctx is still live.
func (p *PromQL) publish(ctx context.Context, set func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	set()
	return nil
}

func ignoreDisabled(err error) error {
	if errors.Is(err, datasource.ErrLookupsDisabled) {
		return nil
	}
	return err
}

func (p *PromQL) Metrics() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.metrics...)
}

func (p *PromQL) LabelNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.labelNames...)
}

func (p *PromQL) LabelValues() map[string][]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string][]string, len(p.labelValues))
	for k, v := range p.labelValues {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Metadata returns the exporter-declared type and help of metric.
func (p *PromQL) Metadata(metric string) (datasource.Metadata, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	md, ok := p.metadata[metric]
	return md, ok
}

// RecordingRules returns the known recording rules by name.
func (p *PromQL) RecordingRules() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]string, len(p.rules))
	for k, v := range p.rules {
		out[k] = v
	}
	return out
}

// ProvideCompletions generates suggestions for in. opts.Catalog, when set, is preferred
// over the provider's own state so callers see a consistent snapshot.
func (p *PromQL) ProvideCompletions(ctx context.Context, in TypeaheadInput, opts CompletionOptions) (*CompletionResult, error) {
	ids := opts.Catalog
	if ids == nil {
		ids = providerIdentifiers{p}
	}
	switch {
	case in.HasClass(ContextRange):
		return &CompletionResult{Context: ContextRange, Suggestions: []SuggestionGroup{
			{Label: "Range vector", Items: filterItems(rangeDurations, in.Prefix, "")},
		}}, nil
	case in.HasClass(ContextLabelValues):
		values, err := p.valuesFor(ctx, ids, in.LabelKey)
		if err != nil {
			return nil, err
		}
		return &CompletionResult{Context: ContextLabelValues, Suggestions: []SuggestionGroup{
			{Label: fmt.Sprintf("Label values for %q", in.LabelKey), Items: filterItems(values, in.Prefix, "")},
		}}, nil
	case in.HasClass(ContextLabels):
		return &CompletionResult{Context: ContextLabels, Suggestions: []SuggestionGroup{
			{Label: "Labels", Items: filterItems(ids.LabelNames(), in.Prefix, "label")},
		}}, nil
	case in.HasClass(ContextAggregation):
		return &CompletionResult{Context: ContextAggregation, Suggestions: []SuggestionGroup{
			{Label: "Labels", Items: filterItems(ids.LabelNames(), in.Prefix, "label")},
		}}, nil
	}

	var groups []SuggestionGroup
	if in.Prefix == "" && len(opts.History) > 0 {
		n := len(opts.History)
		if n > maxHistorySuggestions {
			n = maxHistorySuggestions
		}
		groups = append(groups, SuggestionGroup{Label: "History", Items: filterItems(opts.History[:n], "", "history")})
	}
	if fns := functionItems(in.Prefix); len(fns) > 0 {
		groups = append(groups, SuggestionGroup{Label: "Functions", Items: fns})
	}
	if ms := filterItems(ids.MetricNames(), in.Prefix, "metric"); len(ms) > 0 {
		for i := range ms {
			if md, ok := p.Metadata(ms[i].Label); ok {
				ms[i].Detail = md.Type
			}
		}
		groups = append(groups, SuggestionGroup{Label: "Metrics", Items: ms})
	}
	return &CompletionResult{Suggestions: groups}, nil
}

// valuesFor returns the catalog values of name, falling back to a live lookup for labels
// the bootstrap did not cover.
func (p *PromQL) valuesFor(ctx context.Context, ids Identifiers, name string) ([]string, error) {
	if name == "" {
		return nil, nil
	}
	if vals := ids.LabelValues(name); len(vals) > 0 {
		return vals, nil
	}
	p.mu.RLock()
	vals, ok := p.labelValues[name]
	p.mu.RUnlock()
	if ok {
		return vals, nil
	}
	vals, err := p.lookup.LabelValues(ctx, name, p.currentWindow())
	if err != nil {
		if errors.Is(err, datasource.ErrLookupsDisabled) {
			return nil, nil
		}
		return nil, fmt.Errorf("label values %s: %w", name, err)
	}
	p.mu.Lock()
	p.labelValues[name] = vals
	p.mu.Unlock()
	return vals, nil
}

func filterItems(candidates []string, prefix, detail string) []CompletionItem {
	low := strings.ToLower(prefix)
	out := []CompletionItem{}
	for _, c := range candidates {
		if low == "" || strings.HasPrefix(strings.ToLower(c), low) {
			out = append(out, CompletionItem{Label: c, Detail: detail})
		}
	}
	return out
}

func functionItems(prefix string) []CompletionItem {
	names := FunctionNames()
	out := []CompletionItem{}
	low := strings.ToLower(prefix)
	for _, name := range names {
		if !strings.HasPrefix(name, low) {
			continue
		}
		out = append(out, CompletionItem{Label: name, InsertText: name + "(", Detail: FunctionSignature(name)})
	}
	return out
}

// FunctionNames lists the PromQL functions and aggregators, sorted.
func FunctionNames() []string {
	seen := map[string]struct{}{}
	for name, fn := range parser.Functions {
		if fn.Experimental && !parser.EnableExperimentalFunctions {
			continue
		}
		seen[name] = struct{}{}
	}
	for _, agg := range []string{"sum", "avg", "min", "max", "count", "group", "stddev", "stdvar", "topk", "bottomk", "quantile", "count_values"} {
		seen[agg] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// FunctionSignature renders an argument scaffold such as "expr[5m]" for name.
func FunctionSignature(name string) string {
	fn, ok := parser.Functions[name]
	if !ok {
		return "aggregation"
	}
	parts := make([]string, 0, len(fn.ArgTypes)+1)
	for _, t := range fn.ArgTypes {
		switch t {
		case parser.ValueTypeVector:
			parts = append(parts, "expr")
		case parser.ValueTypeMatrix:
			parts = append(parts, "expr[5m]")
		case parser.ValueTypeScalar:
			parts = append(parts, "scalar")
		case parser.ValueTypeString:
			parts = append(parts, "str")
		default:
			parts = append(parts, "arg")
		}
	}
	if fn.Variadic != 0 {
		parts = append(parts, "...")
	}
	return name + "(" + strings.Join(parts, ", ") + ")"
}

type providerIdentifiers struct{ p *PromQL }

func (pi providerIdentifiers) MetricNames() []string { return pi.p.Metrics() }
func (pi providerIdentifiers) LabelNames() []string  { return pi.p.LabelNames() }
func (pi providerIdentifiers) Ready() bool           { return len(pi.p.Metrics()) > 0 }
func (pi providerIdentifiers) LabelValues(name string) []string {
	pi.p.mu.RLock()
	defer pi.p.mu.RUnlock()
	return pi.p.labelValues[name]
}
