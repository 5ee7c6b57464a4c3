package datasource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// Remote talks to a Prometheus-compatible HTTP API.
type Remote struct {
	name            string
	api             v1.API
	cache           *ristretto.Cache
	ttl             time.Duration
	timeout         time.Duration
	lookupsDisabled bool
	logger          *slog.Logger
}

// RemoteOptions tunes a Remote datasource.
type RemoteOptions struct {
	Name            string
	LookupsDisabled bool
	Timeout         time.Duration
	// LabelValuesTTL bounds how long lookups are served from memory; zero disables caching.
	LabelValuesTTL time.Duration
	RoundTripper   http.RoundTripper
	Logger         *slog.Logger
}

// NewRemote builds a client for the API at address.
func NewRemote(address string, opts RemoteOptions) (*Remote, error) {
	client, err := api.NewClient(api.Config{Address: address, RoundTripper: opts.RoundTripper})
	if err != nil {
		return nil, fmt.Errorf("prometheus client: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := opts.Name
	if name == "" {
		name = address
	}
	r := &Remote{
		name:            name,
		api:             v1.NewAPI(client),
		ttl:             opts.LabelValuesTTL,
		timeout:         opts.Timeout,
		lookupsDisabled: opts.LookupsDisabled,
		logger:          logger.With("component", "datasource", "datasource", name),
	}
	if r.timeout <= 0 {
		r.timeout = 30 * time.Second
	}
	if r.ttl > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: 1e5,
			MaxCost:     64 << 20,
			BufferItems: 64,
		})
		if err != nil {
			r.logger.Warn("lookup cache disabled", "error", err)
		} else {
			r.cache = cache
		}
	}
	return r, nil
}

// Close releases the lookup cache.
func (r *Remote) Close() error {
	if r.cache != nil {
		r.cache.Close()
		r.cache = nil
	}
	return nil
}

func (r *Remote) Name() string          { return r.name }
func (r *Remote) LookupsDisabled() bool { return r.lookupsDisabled }
func (r *Remote) Lookup() Lookup        { return remoteLookup{r} }

func (r *Remote) ModifyQuery(query string, action FixAction) string {
	return ModifyQuery(query, action)
}

// Run executes query through the HTTP API.
func (r *Remote) Run(ctx context.Context, query string, w TimeWindow) (*Data, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		val      model.Value
		warnings v1.Warnings
		err      error
	)
	if w.IsZero() || !w.To.After(w.From) {
		at := time.Now()
		if !w.To.IsZero() {
			at = w.To
		}
		val, warnings, err = r.api.Query(ctx, query, at)
	} else {
		val, warnings, err = r.api.QueryRange(ctx, query, v1.Range{Start: w.From, End: w.To, Step: w.Step()})
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return failed(query, err), nil
	}
	for _, warn := range warnings {
		r.logger.Warn("query warning", "query", query, "warning", warn)
	}
	return &Data{Query: query, Series: fromModelValue(val)}, nil
}

func fromModelValue(v model.Value) []Series {
	out := []Series{}
	switch v := v.(type) {
	case model.Vector:
		for _, s := range v {
			out = append(out, Series{Labels: metricMap(s.Metric), Points: []Point{{T: int64(s.Timestamp), V: float64(s.Value)}}})
		}
	case model.Matrix:
		for _, s := range v {
			pts := make([]Point, 0, len(s.Values))
			for _, p := range s.Values {
				pts = append(pts, Point{T: int64(p.Timestamp), V: float64(p.Value)})
			}
			out = append(out, Series{Labels: metricMap(s.Metric), Points: pts})
		}
	case *model.Scalar:
		out = append(out, Series{Labels: map[string]string{}, Points: []Point{{T: int64(v.Timestamp), V: float64(v.Value)}}})
	}
	return out
}

func metricMap(m model.Metric) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[string(k)] = string(v)
	}
	return out
}

// cached serves key from the lookup cache or computes and stores it.
func (r *Remote) cached(key string, compute func() ([]string, error)) ([]string, error) {
	if r.cache != nil {
		if v, ok := r.cache.Get(key); ok {
			if ss, ok := v.([]string); ok {
				return ss, nil
			}
		}
	}
	ss, err := compute()
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		cost := int64(1)
		for _, s := range ss {
			cost += int64(len(s))
		}
		if r.cache.SetWithTTL(key, ss, cost, r.ttl) {
			r.cache.Wait()
		}
	}
	return ss, nil
}

func windowKey(kind string, w TimeWindow) string {
	return fmt.Sprintf("%s:%d:%d", kind, w.From.Truncate(time.Minute).Unix(), w.To.Truncate(time.Minute).Unix())
}

// lookupWindow defaults an empty window to the last hour.
func lookupWindow(w TimeWindow) TimeWindow {
	if w.IsZero() {
		return LastWindow(time.Now(), time.Hour)
	}
	return w
}

type remoteLookup struct{ r *Remote }

func (rl remoteLookup) MetricNames(ctx context.Context, w TimeWindow) ([]string, error) {
	return rl.LabelValues(ctx, model.MetricNameLabel, w)
}

func (rl remoteLookup) LabelNames(ctx context.Context, w TimeWindow) ([]string, error) {
	if rl.r.lookupsDisabled {
		return nil, ErrLookupsDisabled
	}
	w = lookupWindow(w)
	return rl.r.cached(windowKey("names", w), func() ([]string, error) {
		names, _, err := rl.r.api.LabelNames(ctx, nil, w.From, w.To)
		if err != nil {
			return nil, fmt.Errorf("label names: %w", err)
		}
		out := make([]string, 0, len(names))
		for _, n := range names {
			if n != model.MetricNameLabel {
				out = append(out, n)
			}
		}
		sort.Strings(out)
		return out, nil
	})
}

func (rl remoteLookup) LabelValues(ctx context.Context, name string, w TimeWindow) ([]string, error) {
	if rl.r.lookupsDisabled {
		return nil, ErrLookupsDisabled
	}
	w = lookupWindow(w)
	return rl.r.cached(windowKey("values:"+name, w), func() ([]string, error) {
		vals, _, err := rl.r.api.LabelValues(ctx, name, []string{}, w.From, w.To)
		if err != nil {
			return nil, fmt.Errorf("label values %s: %w", name, err)
		}
		out := make([]string, 0, len(vals))
		for _, v := range vals {
			out = append(out, string(v))
		}
		sort.Strings(out)
		return out, nil
	})
}

func (rl remoteLookup) Metadata(ctx context.Context) (map[string]Metadata, error) {
	if rl.r.lookupsDisabled {
		return nil, ErrLookupsDisabled
	}
	md, err := rl.r.api.Metadata(ctx, "", "")
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	out := make(map[string]Metadata, len(md))
	for name, entries := range md {
		if len(entries) == 0 {
			continue
		}
		out[name] = Metadata{Type: string(entries[0].Type), Help: entries[0].Help}
	}
	return out, nil
}

func (rl remoteLookup) RecordingRules(ctx context.Context) (map[string]string, error) {
	if rl.r.lookupsDisabled {
		return nil, ErrLookupsDisabled
	}
	res, err := rl.r.api.Rules(ctx)
	if err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}
	out := map[string]string{}
	for _, g := range res.Groups {
		for _, rule := range g.Rules {
			switch rr := rule.(type) {
			case v1.RecordingRule:
				out[rr.Name] = rr.Query
			case *v1.RecordingRule:
				out[rr.Name] = rr.Query
			}
		}
	}
	return out, nil
}
