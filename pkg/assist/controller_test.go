package assist

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jjo/promql-assist/pkg/ai"
	"github.com/jjo/promql-assist/pkg/datasource"
)

func TestNew_BuildsAIClientFromConfig(t *testing.T) {
	if _, err := New(Options{AI: ai.Config{Provider: "bogus", Model: "m"}}); err == nil {
		t.Fatalf("expected an error for an unknown AI provider")
	}
	c, err := New(Options{AI: ai.Config{Provider: ai.ProviderOllama, Model: "llama3", Base: "http://127.0.0.1:11434"}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if c.ai == nil {
		t.Fatalf("expected a chat client to be built")
	}
}

func TestEdit_NeverRuns(t *testing.T) {
	rec := &recorder{}
	c := newController(t, rec.options(Options{}))
	c.Edit("u")
	c.Edit("up")
	changes, runs, _ := rec.snapshot()
	if !reflect.DeepEqual(changes, []string{"u", "up"}) || runs != 0 {
		t.Fatalf("got changes=%v runs=%d", changes, runs)
	}
	if c.Query() != "up" {
		t.Fatalf("query got %q", c.Query())
	}
}

func TestSelectFromLabelBrowser(t *testing.T) {
	store := &memLabels{}
	rec := &recorder{}
	c := newController(t, rec.options(Options{Labels: store}))
	if err := c.SelectFromLabelBrowser(`up{job="api"}`, []string{"job"}); err != nil {
		t.Fatalf("SelectFromLabelBrowser failed: %v", err)
	}
	changes, runs, _ := rec.snapshot()
	if !reflect.DeepEqual(changes, []string{`up{job="api"}`}) || runs != 1 {
		t.Fatalf("got changes=%v runs=%d", changes, runs)
	}
	if !reflect.DeepEqual(store.saved, []string{"job"}) || !reflect.DeepEqual(c.View().LastUsedLabels, []string{"job"}) {
		t.Fatalf("labels not remembered: store=%v", store.saved)
	}
}

func TestMount_RestoresStores(t *testing.T) {
	labels := &memLabels{saved: []string{"instance"}}
	hist := &memHistory{items: []string{"up"}}
	c := newController(t, Options{Labels: labels, History: hist})
	c.Mount(context.Background())
	if got := c.View().LastUsedLabels; !reflect.DeepEqual(got, []string{"instance"}) {
		t.Fatalf("last used labels got %v", got)
	}
	c.mu.Lock()
	h := c.recentHistory()
	c.mu.Unlock()
	if !reflect.DeepEqual(h, []string{"up"}) {
		t.Fatalf("history got %v", h)
	}
}

func TestRunQuery(t *testing.T) {
	c := newController(t, Options{})
	if _, err := c.RunQuery(context.Background()); !errors.Is(err, ErrNoDatasource) {
		t.Fatalf("expected ErrNoDatasource, got %v", err)
	}

	ds := &fakeDatasource{name: "prom"}
	hist := &memHistory{}
	c = newController(t, Options{Datasource: ds, History: hist, HistoryCap: 2, InitialQuery: "up"})
	for _, q := range []string{"up", "up", "rate(x[5m])", "sum(up)"} {
		c.Edit(q)
		if _, err := c.RunQuery(context.Background()); err != nil {
			t.Fatalf("RunQuery failed: %v", err)
		}
	}
	if !reflect.DeepEqual(ds.runs, []string{"up", "up", "rate(x[5m])", "sum(up)"}) {
		t.Fatalf("runs got %v", ds.runs)
	}
	c.mu.Lock()
	h := c.recentHistory()
	c.mu.Unlock()
	if !reflect.DeepEqual(h, []string{"sum(up)", "rate(x[5m])"}) {
		t.Fatalf("history must be deduplicated and capped, got %v", h)
	}
	if len(hist.items) != 2 {
		t.Fatalf("persisted history must be capped, got %v", hist.items)
	}
}

func TestView_ChooserText(t *testing.T) {
	c := newController(t, Options{Datasource: &fakeDatasource{disabled: true}, Provider: &fakeProvider{metrics: []string{"up"}}})
	waitLoad(t, c.Mount(context.Background()))
	if got := c.View().ChooserText; got != ChooserDisabled {
		t.Fatalf("disabled lookups got %q", got)
	}

	cases := []struct {
		cat  *Catalog
		want string
	}{
		{cat: nil, want: ChooserLoading},
		{cat: newCatalog(nil, nil, nil), want: ChooserEmpty},
		{cat: newCatalog([]string{"up"}, nil, nil), want: ChooserReady},
	}
	for _, tc := range cases {
		if got := chooserText(false, tc.cat); got != tc.want {
			t.Fatalf("chooserText got %q want %q", got, tc.want)
		}
	}
}

func TestView_CarriesErrorsAndRepair(t *testing.T) {
	c := newController(t, Options{AIClient: &fakeAI{resp: "up"}})
	c.ResultsChanged(&datasource.Data{Errors: []datasource.QueryError{{Message: "bad"}}})
	v := c.View()
	if len(v.Errors) != 1 || !v.CanRepair || v.Repair.Status != RepairIdle {
		t.Fatalf("unexpected view: %+v", v)
	}
}

func TestRegisterMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second Register must be a no-op, got %v", err)
	}
	observeLoad(LoadSucceeded, 0)
	observeCompletion("")
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"promql_assist_catalog_loads_total", "promql_assist_completions_total"} {
		if !names[want] {
			t.Fatalf("missing metric family %s in %v", want, names)
		}
	}
}
