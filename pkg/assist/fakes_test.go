package assist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jjo/promql-assist/pkg/ai"
	"github.com/jjo/promql-assist/pkg/datasource"
	"github.com/jjo/promql-assist/pkg/language"
)

// fakeLoad scripts one bootstrap: the task waits on gate (when set) and then publishes
// metrics. honorCancel makes the task return as soon as its context ends.
type fakeLoad struct {
	gate        chan struct{}
	metrics     []string
	err         error
	honorCancel bool
}

type fakeProvider struct {
	mu      sync.Mutex
	loads   []fakeLoad
	boots   int
	metrics []string
	labels  []string
	values  map[string][]string
	window  datasource.TimeWindow

	initial      []language.Hint
	queryHints   []language.Hint
	initialCalls int
	queryCalls   int

	result   *language.CompletionResult
	complErr error
	lastOpts language.CompletionOptions
}

func (p *fakeProvider) Bootstrap(ctx context.Context) ([]language.Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var load fakeLoad
	if len(p.loads) > 0 {
		load, p.loads = p.loads[0], p.loads[1:]
	} else {
		load = fakeLoad{metrics: p.metrics}
	}
	p.boots++
	return []language.Task{func(ctx context.Context) error {
		if load.gate != nil {
			if load.honorCancel {
				select {
				case <-load.gate:
				case <-ctx.Done():
					return ctx.Err()
				}
			} else {
				<-load.gate
			}
		}
		if load.err != nil {
			return load.err
		}
		p.mu.Lock()
		p.metrics = load.metrics
		p.mu.Unlock()
		return nil
	}}, nil
}

func (p *fakeProvider) ProvideCompletions(_ context.Context, _ language.TypeaheadInput, opts language.CompletionOptions) (*language.CompletionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastOpts = opts
	return p.result, p.complErr
}

func (p *fakeProvider) InitialHints(string) []language.Hint {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initialCalls++
	return p.initial
}

func (p *fakeProvider) QueryHints(string, []datasource.Series) []language.Hint {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queryCalls++
	return p.queryHints
}

func (p *fakeProvider) Metrics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.metrics...)
}

func (p *fakeProvider) LabelNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.labels
}

func (p *fakeProvider) LabelValues() map[string][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.values
}

func (p *fakeProvider) SetRange(w datasource.TimeWindow) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.window = w
}

func (p *fakeProvider) bootCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.boots
}

type fakeDatasource struct {
	name     string
	disabled bool
	data     *datasource.Data
	runs     []string
}

func (d *fakeDatasource) Name() string              { return d.name }
func (d *fakeDatasource) LookupsDisabled() bool     { return d.disabled }
func (d *fakeDatasource) Lookup() datasource.Lookup { return nil }

func (d *fakeDatasource) ModifyQuery(q string, a datasource.FixAction) string {
	return datasource.ModifyQuery(q, a)
}

func (d *fakeDatasource) Run(_ context.Context, q string, _ datasource.TimeWindow) (*datasource.Data, error) {
	d.runs = append(d.runs, q)
	if d.data == nil {
		return &datasource.Data{Query: q, Series: []datasource.Series{}}, nil
	}
	return d.data, nil
}

type fakeAI struct {
	mu   sync.Mutex
	gate chan struct{}
	resp string
	err  error
	reqs []ai.ChatRequest
}

func (f *fakeAI) Chat(ctx context.Context, req ai.ChatRequest) (*ai.ChatResponse, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if f.err != nil {
		return nil, f.err
	}
	return &ai.ChatResponse{Choices: []ai.Choice{{Message: ai.Message{Role: ai.RoleAssistant, Content: f.resp}}}}, nil
}

type memLabels struct{ saved []string }

func (m *memLabels) LastUsedLabels() ([]string, error) { return m.saved, nil }

func (m *memLabels) SaveLastUsedLabels(l []string) error {
	m.saved = l
	return nil
}

type memHistory struct{ items []string }

func (m *memHistory) History(limit int) ([]string, error) {
	if len(m.items) > limit {
		return m.items[:limit], nil
	}
	return m.items, nil
}

func (m *memHistory) AppendHistory(q string, limit int) error {
	m.items = append([]string{q}, m.items...)
	if len(m.items) > limit {
		m.items = m.items[:limit]
	}
	return nil
}

type recorder struct {
	mu      sync.Mutex
	changes []string
	runs    int
	errs    []error
}

func (r *recorder) options(opts Options) Options {
	opts.OnChange = func(s string) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.changes = append(r.changes, s)
	}
	opts.OnRunQuery = func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.runs++
	}
	opts.OnError = func(err error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.errs = append(r.errs, err)
	}
	return opts
}

func (r *recorder) snapshot() ([]string, int, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.changes...), r.runs, append([]error(nil), r.errs...)
}

var errBoom = errors.New("boom")

func newController(t *testing.T, opts Options) *Controller {
	t.Helper()
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(c.Unmount)
	return c
}

func waitLoad(t *testing.T, h *LoadHandle) LoadResult {
	t.Helper()
	if h == nil {
		t.Fatalf("expected a load to start")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("load did not resolve: %v", err)
	}
	return res
}

// eventually polls cond until it holds or a deadline passes.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
