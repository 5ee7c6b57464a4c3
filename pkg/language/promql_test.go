package language

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/jjo/promql-assist/pkg/datasource"
	"github.com/jjo/promql-assist/pkg/storage"
)

func newSampleProvider(t *testing.T) *PromQL {
	t.Helper()
	store := storage.New()
	if err := store.LoadFromReader(strings.NewReader(storage.SampleMetrics)); err != nil {
		t.Fatalf("LoadFromReader failed: %v", err)
	}
	p := NewPromQL(datasource.NewLocal(store, datasource.LocalOptions{}).Lookup(), nil)
	bootstrap(t, p)
	return p
}

func bootstrap(t *testing.T, p *PromQL) {
	t.Helper()
	ctx := context.Background()
	tasks, err := p.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	for _, task := range tasks {
		if err := task(ctx); err != nil {
			t.Fatalf("bootstrap task failed: %v", err)
		}
	}
}

func labels(items []CompletionItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Label)
	}
	return out
}

func TestInputAt_Contexts(t *testing.T) {
	cases := []struct {
		line     string
		classes  []string
		prefix   string
		text     string
		labelKey string
	}{
		{line: "http_re", prefix: "http_re", text: "http_re"},
		{line: "rate(http_requests_total[", classes: []string{ContextRange}},
		{line: `up{jo`, classes: []string{ContextLabels}, prefix: "jo", text: "jo"},
		{line: `up{job="api",co`, classes: []string{ContextLabels}, prefix: "co", text: "co"},
		{line: `up{job=`, classes: []string{ContextLabels, ContextLabelValues}, text: "=", labelKey: "job"},
		{line: `up{job=~"ap`, classes: []string{ContextLabels, ContextLabelValues}, prefix: "ap", text: `=~"ap`, labelKey: "job"},
		{line: `up{job!="a`, classes: []string{ContextLabels, ContextLabelValues}, prefix: "a", text: `!="a`, labelKey: "job"},
		{line: `up{job="api"`, classes: []string{ContextLabels}},
		{line: `sum by (co`, classes: []string{ContextAggregation}, prefix: "co", text: "co"},
	}
	for _, tc := range cases {
		in := InputAt(tc.line, len(tc.line))
		if !reflect.DeepEqual(in.WrapperClasses, tc.classes) {
			t.Errorf("%q: classes got=%v want=%v", tc.line, in.WrapperClasses, tc.classes)
		}
		if in.Prefix != tc.prefix || in.Text != tc.text || in.LabelKey != tc.labelKey {
			t.Errorf("%q: got prefix=%q text=%q key=%q, want prefix=%q text=%q key=%q",
				tc.line, in.Prefix, in.Text, in.LabelKey, tc.prefix, tc.text, tc.labelKey)
		}
	}
}

func TestInputAt_SplitsAtCursor(t *testing.T) {
	in := InputAt(`up{jo}`, 5)
	if in.Value.TextBeforeCursor != "up{jo" || in.Value.TextAfterCursor != "}" {
		t.Fatalf("unexpected split: %+v", in.Value)
	}
	if in.Value.NextChar() != "}" {
		t.Fatalf("NextChar got %q", in.Value.NextChar())
	}
	if got := InputAt("x", 99).Value.NextChar(); got != "" {
		t.Fatalf("expected empty next char at end, got %q", got)
	}
}

func TestBootstrap_PopulatesCatalog(t *testing.T) {
	p := newSampleProvider(t)
	if got := p.Metrics(); len(got) != 5 {
		t.Fatalf("expected 5 metrics, got %v", got)
	}
	if got, want := p.LabelValues()["job"], []string{"api", "sensors"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("job values got=%v want=%v", got, want)
	}
	if md, ok := p.Metadata("http_requests_total"); !ok || md.Type != "counter" {
		t.Fatalf("expected counter metadata, got %+v ok=%v", md, ok)
	}
}

func TestBootstrap_LookupsDisabled(t *testing.T) {
	ds := datasource.NewLocal(storage.New(), datasource.LocalOptions{LookupsDisabled: true})
	p := NewPromQL(ds.Lookup(), nil)
	bootstrap(t, p)
	if len(p.Metrics()) != 0 {
		t.Fatalf("expected no metrics with lookups disabled")
	}
}

type failingLookup struct{ datasource.Lookup }

func (failingLookup) MetricNames(context.Context, datasource.TimeWindow) ([]string, error) {
	return nil, errors.New("boom")
}

func TestBootstrap_TaskFailure(t *testing.T) {
	p := NewPromQL(failingLookup{}, nil)
	tasks, err := p.Bootstrap(context.Background())
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	if err := tasks[0](context.Background()); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected wrapped lookup error, got %v", err)
	}
}

func TestProvideCompletions(t *testing.T) {
	p := newSampleProvider(t)
	ctx := context.Background()

	res, err := p.ProvideCompletions(ctx, InputAt(`http_requests_total{co`, 22), CompletionOptions{})
	if err != nil {
		t.Fatalf("ProvideCompletions failed: %v", err)
	}
	if res.Context != ContextLabels || !reflect.DeepEqual(labels(res.Suggestions[0].Items), []string{"code"}) {
		t.Fatalf("unexpected label completions: %+v", res)
	}

	line := `http_requests_total{job="`
	res, err = p.ProvideCompletions(ctx, InputAt(line, len(line)), CompletionOptions{})
	if err != nil {
		t.Fatalf("ProvideCompletions failed: %v", err)
	}
	if res.Context != ContextLabelValues || !reflect.DeepEqual(labels(res.Suggestions[0].Items), []string{"api", "sensors"}) {
		t.Fatalf("unexpected value completions: %+v", res)
	}

	res, err = p.ProvideCompletions(ctx, InputAt("", 0), CompletionOptions{History: []string{"up", "temperature"}})
	if err != nil {
		t.Fatalf("ProvideCompletions failed: %v", err)
	}
	var groups []string
	for _, g := range res.Suggestions {
		groups = append(groups, g.Label)
	}
	if !reflect.DeepEqual(groups, []string{"History", "Functions", "Metrics"}) {
		t.Fatalf("unexpected groups: %v", groups)
	}

	res, err = p.ProvideCompletions(ctx, InputAt("temp", 4), CompletionOptions{})
	if err != nil {
		t.Fatalf("ProvideCompletions failed: %v", err)
	}
	found := false
	for _, g := range res.Suggestions {
		if g.Label == "Metrics" && reflect.DeepEqual(labels(g.Items), []string{"temperature"}) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected temperature metric suggestion, got %+v", res.Suggestions)
	}
}

type staticIDs struct{ metrics []string }

func (s staticIDs) MetricNames() []string       { return s.metrics }
func (s staticIDs) LabelNames() []string        { return nil }
func (s staticIDs) LabelValues(string) []string { return nil }
func (s staticIDs) Ready() bool                 { return len(s.metrics) > 0 }

func TestProvideCompletions_PrefersCatalogSnapshot(t *testing.T) {
	p := newSampleProvider(t)
	res, err := p.ProvideCompletions(context.Background(), InputAt("snap", 4), CompletionOptions{Catalog: staticIDs{metrics: []string{"snapshot_metric"}}})
	if err != nil {
		t.Fatalf("ProvideCompletions failed: %v", err)
	}
	last := res.Suggestions[len(res.Suggestions)-1]
	if last.Label != "Metrics" || !reflect.DeepEqual(labels(last.Items), []string{"snapshot_metric"}) {
		t.Fatalf("expected snapshot metrics, got %+v", res.Suggestions)
	}
}

func TestFunctionSignature(t *testing.T) {
	if got := FunctionSignature("rate"); got != "rate(expr[5m])" {
		t.Fatalf("rate signature got %q", got)
	}
	if got := FunctionSignature("sum"); got != "aggregation" {
		t.Fatalf("sum signature got %q", got)
	}
}

func TestBootstrap_EndedContextDoesNotPublish(t *testing.T) {
	store := storage.New()
	if err := store.LoadFromReader(strings.NewReader(storage.SampleMetrics)); err != nil {
		t.Fatalf("LoadFromReader failed: %v", err)
	}
	p := NewPromQL(datasource.NewLocal(store, datasource.LocalOptions{}).Lookup(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	tasks, err := p.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	cancel()
	for i, task := range tasks {
		if err := task(ctx); !errors.Is(err, context.Canceled) {
			t.Fatalf("task %d: expected context.Canceled, got %v", i, err)
		}
	}
	if len(p.Metrics()) != 0 || len(p.LabelNames()) != 0 || len(p.RecordingRules()) != 0 {
		t.Fatalf("a task with an ended context must not publish")
	}
}
