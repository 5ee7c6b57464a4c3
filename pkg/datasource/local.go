package datasource

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/prometheus/promql"

	"github.com/jjo/promql-assist/pkg/storage"
)

// Local evaluates queries with the upstream PromQL engine over an in-memory store.
type Local struct {
	name            string
	store           *storage.Store
	engine          *promql.Engine
	lookupsDisabled bool
	logger          *slog.Logger
}

// LocalOptions tunes a Local datasource.
type LocalOptions struct {
	Name            string
	LookupsDisabled bool
	Timeout         time.Duration
	Logger          *slog.Logger
}

// NewEngine returns the engine settings shared by the local datasource and its tests.
func NewEngine(timeout time.Duration) *promql.Engine {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return promql.NewEngine(promql.EngineOpts{
		MaxSamples:               50000000,
		Timeout:                  timeout,
		LookbackDelta:            5 * time.Minute,
		EnableAtModifier:         true,
		EnableNegativeOffset:     true,
		NoStepSubqueryIntervalFn: func(rangeMillis int64) int64 { return 60 * 1000 },
	})
}

// NewLocal wraps store.
func NewLocal(store *storage.Store, opts LocalOptions) *Local {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := opts.Name
	if name == "" {
		name = "local"
	}
	return &Local{
		name:            name,
		store:           store,
		engine:          NewEngine(opts.Timeout),
		lookupsDisabled: opts.LookupsDisabled,
		logger:          logger.With("component", "datasource", "datasource", name),
	}
}

// LoadFile opens an exposition-format file into a new store.
func LoadFile(path string) (*storage.Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()
	store := storage.New()
	if err := store.LoadFromReader(f); err != nil {
		return nil, err
	}
	return store, nil
}

func (l *Local) Name() string          { return l.name }
func (l *Local) LookupsDisabled() bool { return l.lookupsDisabled }
func (l *Local) Lookup() Lookup        { return localLookup{l} }
func (l *Local) Store() *storage.Store { return l.store }

func (l *Local) ModifyQuery(query string, action FixAction) string {
	return ModifyQuery(query, action)
}

// Run evaluates query as a range query over w, or as an instant query at now when w is zero.
func (l *Local) Run(ctx context.Context, query string, w TimeWindow) (*Data, error) {
	var (
		q   promql.Query
		err error
	)
	if w.IsZero() || !w.To.After(w.From) {
		at := time.Now()
		if !w.To.IsZero() {
			at = w.To
		}
		q, err = l.engine.NewInstantQuery(ctx, l.store, nil, query, at)
	} else {
		q, err = l.engine.NewRangeQuery(ctx, l.store, nil, query, w.From, w.To, w.Step())
	}
	if err != nil {
		return failed(query, err), nil
	}
	defer q.Close()

	res := q.Exec(ctx)
	if res.Err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		l.logger.Debug("query failed", "query", query, "error", res.Err)
		return failed(query, res.Err), nil
	}
	return &Data{Query: query, Series: fromEngineValue(res.Value)}, nil
}

func failed(query string, err error) *Data {
	return &Data{Query: query, Series: []Series{}, Errors: []QueryError{{Message: err.Error()}}}
}

func fromEngineValue(v any) []Series {
	out := []Series{}
	switch v := v.(type) {
	case promql.Vector:
		for _, s := range v {
			out = append(out, Series{Labels: s.Metric.Map(), Points: []Point{{T: s.T, V: s.F}}})
		}
	case promql.Matrix:
		for _, s := range v {
			pts := make([]Point, 0, len(s.Floats))
			for _, p := range s.Floats {
				pts = append(pts, Point{T: p.T, V: p.F})
			}
			out = append(out, Series{Labels: s.Metric.Map(), Points: pts})
		}
	case promql.Scalar:
		out = append(out, Series{Labels: map[string]string{}, Points: []Point{{T: v.T, V: v.V}}})
	}
	return out
}

// localLookup reads identifiers straight from the store; the window is ignored because
// the store has no retention.
type localLookup struct{ l *Local }

func (ll localLookup) MetricNames(context.Context, TimeWindow) ([]string, error) {
	if ll.l.lookupsDisabled {
		return nil, ErrLookupsDisabled
	}
	return ll.l.store.MetricNames(), nil
}

func (ll localLookup) LabelNames(context.Context, TimeWindow) ([]string, error) {
	if ll.l.lookupsDisabled {
		return nil, ErrLookupsDisabled
	}
	return ll.l.store.LabelNames(), nil
}

func (ll localLookup) LabelValues(_ context.Context, name string, _ TimeWindow) ([]string, error) {
	if ll.l.lookupsDisabled {
		return nil, ErrLookupsDisabled
	}
	return ll.l.store.LabelValues(name), nil
}

func (ll localLookup) Metadata(context.Context) (map[string]Metadata, error) {
	if ll.l.lookupsDisabled {
		return nil, ErrLookupsDisabled
	}
	out := map[string]Metadata{}
	for _, name := range ll.l.store.MetricNames() {
		if typ := ll.l.store.Type(name); typ != "" {
			out[name] = Metadata{Type: typ, Help: ll.l.store.Help(name)}
		}
	}
	return out, nil
}

func (ll localLookup) RecordingRules(context.Context) (map[string]string, error) {
	return map[string]string{}, nil
}
