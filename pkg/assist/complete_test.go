package assist

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/jjo/promql-assist/pkg/language"
)

func TestApplySuggestion(t *testing.T) {
	cases := []struct {
		name       string
		context    string
		text       string
		after      string
		suggestion string
		want       string
	}{
		{name: "label at end", context: language.ContextLabels, suggestion: "job", want: "job="},
		{name: "label before brace", context: language.ContextLabels, after: "}", suggestion: "job", want: "job="},
		{name: "label before comma", context: language.ContextLabels, after: `,code="200"}`, suggestion: "job", want: "job="},
		{name: "label before operator", context: language.ContextLabels, after: `="api"}`, suggestion: "job", want: "job"},
		{name: "value after operator", context: language.ContextLabelValues, text: "=", suggestion: "up", want: `"up"`},
		{name: "value after operator and quote", context: language.ContextLabelValues, text: `="`, suggestion: "up", want: `up"`},
		{name: "value after regexp quote", context: language.ContextLabelValues, text: `=~"no`, suggestion: "node", want: `node"`},
		{name: "value after negated quote", context: language.ContextLabelValues, text: `!="`, suggestion: "node", want: `node"`},
		{name: "value after negated regexp quote", context: language.ContextLabelValues, text: `!~"no`, suggestion: "node", want: `node"`},
		{name: "value after negated regexp", context: language.ContextLabelValues, text: `!~`, suggestion: "node", want: `"node"`},
		{name: "value after bare quote", context: language.ContextLabelValues, text: `"`, suggestion: "node", want: `node"`},
		{name: "value before closing quote", context: language.ContextLabelValues, text: `="`, after: `"}`, suggestion: "node", want: "node"},
		{name: "value bare prefix", context: language.ContextLabelValues, text: "no", after: "}", suggestion: "node", want: `"node"`},
		{name: "other context", context: language.ContextRange, suggestion: "5m", want: "5m"},
		{name: "no context", suggestion: "rate(", want: "rate("},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := language.TypeaheadInput{Text: tc.text, Value: language.CursorValue{TextAfterCursor: tc.after}}
			if got := ApplySuggestion(tc.context, in, tc.suggestion); got != tc.want {
				t.Fatalf("ApplySuggestion got=%q want=%q", got, tc.want)
			}
		})
	}
}

func collect(seq func(func(Suggestion) bool)) []Suggestion {
	var out []Suggestion
	for s := range seq {
		out = append(out, s)
	}
	return out
}

func TestComplete_NoProviderIsEmpty(t *testing.T) {
	c := newController(t, Options{})
	seq, err := c.Complete(context.Background(), language.InputAt("up", 2))
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got := collect(seq); len(got) != 0 {
		t.Fatalf("expected no suggestions, got %+v", got)
	}
}

func TestComplete_TransformsAndRestarts(t *testing.T) {
	p := &fakeProvider{result: &language.CompletionResult{
		Context: language.ContextLabelValues,
		Suggestions: []language.SuggestionGroup{
			{Label: "Label values", Items: []language.CompletionItem{{Label: "api"}, {Label: "node"}}},
		},
	}}
	c := newController(t, Options{Provider: p})
	line := `up{job=`
	seq, err := c.Complete(context.Background(), language.InputAt(line, len(line)))
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	want := []Suggestion{
		{Group: "Label values", Label: "api", Text: `"api"`},
		{Group: "Label values", Label: "node", Text: `"node"`},
	}
	for i := 0; i < 2; i++ {
		if got := collect(seq); !reflect.DeepEqual(got, want) {
			t.Fatalf("pass %d: got %+v want %+v", i, got, want)
		}
	}
	for s := range seq {
		if s.Label != "api" {
			t.Fatalf("early stop must yield the first suggestion, got %+v", s)
		}
		break
	}
}

func TestComplete_PassesRecentHistoryAndCatalog(t *testing.T) {
	hist := &memHistory{}
	for i := 0; i < 15; i++ {
		hist.items = append(hist.items, string(rune('a'+i)))
	}
	p := &fakeProvider{metrics: []string{"up"}, result: &language.CompletionResult{}}
	c := newController(t, Options{Provider: p, History: hist})
	waitLoad(t, c.Mount(context.Background()))

	if _, err := c.Complete(context.Background(), language.InputAt("", 0)); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	p.mu.Lock()
	opts := p.lastOpts
	p.mu.Unlock()
	if len(opts.History) != completionHistory || opts.History[0] != "a" {
		t.Fatalf("expected the %d most recent queries, got %v", completionHistory, opts.History)
	}
	if opts.Catalog == nil || !reflect.DeepEqual(opts.Catalog.MetricNames(), []string{"up"}) {
		t.Fatalf("expected the catalog snapshot to be passed, got %+v", opts.Catalog)
	}
}

func TestComplete_ProviderFailure(t *testing.T) {
	p := &fakeProvider{complErr: errBoom}
	c := newController(t, Options{Provider: p})
	_, err := c.Complete(context.Background(), language.InputAt("up", 2))
	if !errors.Is(err, ErrProviderFailure) || !errors.Is(err, errBoom) {
		t.Fatalf("expected wrapped provider failure, got %v", err)
	}

	p.complErr = context.Canceled
	_, err = c.Complete(context.Background(), language.InputAt("up", 2))
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrProviderFailure) {
		t.Fatalf("cancellation must not be reported as a provider failure, got %v", err)
	}
}

func TestApplySuggestion_TypedMatchers(t *testing.T) {
	for _, line := range []string{`up{job="no`, `up{job=~"no`, `up{job!="no`, `up{job!~"no`} {
		in := language.InputAt(line, len(line))
		if got := ApplySuggestion(language.ContextLabelValues, in, "node"); got != `node"` {
			t.Errorf("%s: got %q want %q", line, got, `node"`)
		}
	}
}
