package assist

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/jjo/promql-assist/pkg/language"
)

// Kind is an identifier kind held by the catalog.
type Kind string

const (
	KindMetricName Kind = "metric"
	KindLabelName  Kind = "label"
	KindLabelValue Kind = "value"
)

// Catalog is an immutable snapshot of queryable identifiers. Methods are safe on a nil
// receiver, which reads as an empty, not-ready catalog.
type Catalog struct {
	metrics     []string
	labelNames  []string
	labelValues map[string][]string
	ready       bool
}

func newCatalog(metrics, labelNames []string, labelValues map[string][]string) *Catalog {
	values := make(map[string][]string, len(labelValues))
	for k, v := range labelValues {
		values[k] = sortedCopy(v)
	}
	return &Catalog{
		metrics:     sortedCopy(metrics),
		labelNames:  sortedCopy(labelNames),
		labelValues: values,
		ready:       true,
	}
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

// Ready reports whether the catalog comes from a completed load.
func (c *Catalog) Ready() bool { return c != nil && c.ready }

func (c *Catalog) MetricNames() []string {
	if c == nil {
		return nil
	}
	return c.metrics
}

func (c *Catalog) LabelNames() []string {
	if c == nil {
		return nil
	}
	return c.labelNames
}

func (c *Catalog) LabelValues(name string) []string {
	if c == nil {
		return nil
	}
	return c.labelValues[name]
}

// Identifiers returns the set held for kind. Label values are merged across labels.
func (c *Catalog) Identifiers(kind Kind) []string {
	switch kind {
	case KindMetricName:
		return c.MetricNames()
	case KindLabelName:
		return c.LabelNames()
	case KindLabelValue:
		if c == nil {
			return nil
		}
		seen := map[string]struct{}{}
		for _, vals := range c.labelValues {
			for _, v := range vals {
				seen[v] = struct{}{}
			}
		}
		out := make([]string, 0, len(seen))
		for v := range seen {
			out = append(out, v)
		}
		sort.Strings(out)
		return out
	}
	return nil
}

// LoadOutcome tags how a catalog load ended.
type LoadOutcome int

const (
	LoadPending LoadOutcome = iota
	LoadSucceeded
	LoadCancelled
	LoadFailed
)

func (o LoadOutcome) String() string {
	switch o {
	case LoadSucceeded:
		return "succeeded"
	case LoadCancelled:
		return "cancelled"
	case LoadFailed:
		return "failed"
	}
	return "pending"
}

// LoadResult is the tagged outcome of a load. Catalog is set only on success, Err only on
// failure.
type LoadResult struct {
	Outcome LoadOutcome
	Catalog *Catalog
	Err     error
}

// LoadHandle is an in-flight catalog load.
type LoadHandle struct {
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
	result LoadResult
}

// Generation is the handle's position in the sequence of loads.
func (h *LoadHandle) Generation() uint64 { return h.gen }

// Done is closed once the load has been resolved.
func (h *LoadHandle) Done() <-chan struct{} { return h.done }

// Result returns the outcome; it is LoadPending until Done is closed.
func (h *LoadHandle) Result() LoadResult {
	select {
	case <-h.done:
		return h.result
	default:
		return LoadResult{Outcome: LoadPending}
	}
}

// Wait blocks until the load resolves or ctx ends.
func (h *LoadHandle) Wait(ctx context.Context) (LoadResult, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return LoadResult{Outcome: LoadPending}, ctx.Err()
	}
}

// loadCatalog bootstraps p, awaits every sub-task and snapshots the provider's
// identifiers.
func loadCatalog(ctx context.Context, p language.Provider) (*Catalog, error) {
	tasks, err := p.Bootstrap(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		if task == nil {
			continue
		}
		g.Go(func() error { return task(gctx) })
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newCatalog(p.Metrics(), p.LabelNames(), p.LabelValues()), nil
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
