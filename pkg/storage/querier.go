package storage

import (
	"context"
	"sort"

	"github.com/prometheus/prometheus/model/histogram"
	"github.com/prometheus/prometheus/model/labels"
	promstorage "github.com/prometheus/prometheus/storage"
	"github.com/prometheus/prometheus/tsdb/chunkenc"
	"github.com/prometheus/prometheus/util/annotations"
)

// Querier implements storage.Queryable so the store can be handed to a promql.Engine.
func (s *Store) Querier(mint, maxt int64) (promstorage.Querier, error) {
	return &querier{store: s, mint: mint, maxt: maxt}, nil
}

type querier struct {
	store      *Store
	mint, maxt int64
}

func (q *querier) Select(_ context.Context, _ bool, _ *promstorage.SelectHints, matchers ...*labels.Matcher) promstorage.SeriesSet {
	q.store.mu.RLock()
	defer q.store.mu.RUnlock()

	groups := map[string]*series{}
	var keys []string
	for _, samples := range q.store.metrics {
		for _, smp := range samples {
			if smp.Timestamp < q.mint || smp.Timestamp > q.maxt {
				continue
			}
			if !matches(smp.Labels, matchers) {
				continue
			}
			lbls := labels.FromMap(smp.Labels)
			key := lbls.String()
			g, ok := groups[key]
			if !ok {
				g = &series{labels: lbls}
				groups[key] = g
				keys = append(keys, key)
			}
			g.samples = append(g.samples, smp)
		}
	}
	sort.Strings(keys)
	out := make([]promstorage.Series, 0, len(keys))
	for _, k := range keys {
		g := groups[k]
		sort.SliceStable(g.samples, func(i, j int) bool { return g.samples[i].Timestamp < g.samples[j].Timestamp })
		out = append(out, g)
	}
	return &seriesSet{series: out, index: -1}
}

func (q *querier) LabelValues(_ context.Context, name string, _ *promstorage.LabelHints, matchers ...*labels.Matcher) ([]string, annotations.Annotations, error) {
	return q.store.collect(matchers, func(lbls map[string]string, add func(string)) {
		if v, ok := lbls[name]; ok {
			add(v)
		}
	}), nil, nil
}

func (q *querier) LabelNames(_ context.Context, _ *promstorage.LabelHints, matchers ...*labels.Matcher) ([]string, annotations.Annotations, error) {
	return q.store.collect(matchers, func(lbls map[string]string, add func(string)) {
		for k := range lbls {
			add(k)
		}
	}), nil, nil
}

func (q *querier) Close() error { return nil }

// collect walks every sample matching matchers and returns the sorted, de-duplicated
// strings emitted by pick.
func (s *Store) collect(matchers []*labels.Matcher, pick func(map[string]string, func(string))) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := map[string]struct{}{}
	add := func(v string) { set[v] = struct{}{} }
	for _, samples := range s.metrics {
		for _, smp := range samples {
			if matches(smp.Labels, matchers) {
				pick(smp.Labels, add)
			}
		}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// LabelNames returns every label name in the store except __name__.
func (s *Store) LabelNames() []string {
	names := s.collect(nil, func(lbls map[string]string, add func(string)) {
		for k := range lbls {
			if k != labels.MetricName {
				add(k)
			}
		}
	})
	return names
}

// LabelValues returns every value seen for the named label.
func (s *Store) LabelValues(name string) []string {
	return s.collect(nil, func(lbls map[string]string, add func(string)) {
		if v, ok := lbls[name]; ok {
			add(v)
		}
	})
}

func matches(lbls map[string]string, matchers []*labels.Matcher) bool {
	for _, m := range matchers {
		if !m.Matches(lbls[m.Name]) {
			return false
		}
	}
	return true
}

type series struct {
	labels  labels.Labels
	samples []Sample
}

func (s *series) Labels() labels.Labels { return s.labels }

func (s *series) Iterator(chunkenc.Iterator) chunkenc.Iterator {
	return &iterator{samples: s.samples, index: -1}
}

type iterator struct {
	samples []Sample
	index   int
}

func (it *iterator) Next() chunkenc.ValueType {
	it.index++
	if it.index >= len(it.samples) {
		return chunkenc.ValNone
	}
	return chunkenc.ValFloat
}

//nolint:govet // Seek follows chunkenc.Iterator, not io.Seeker
func (it *iterator) Seek(t int64) chunkenc.ValueType {
	if it.index < 0 {
		it.index = 0
	}
	for ; it.index < len(it.samples); it.index++ {
		if it.samples[it.index].Timestamp >= t {
			return chunkenc.ValFloat
		}
	}
	return chunkenc.ValNone
}

func (it *iterator) At() (int64, float64) {
	if it.index < 0 || it.index >= len(it.samples) {
		return 0, 0
	}
	return it.samples[it.index].Timestamp, it.samples[it.index].Value
}

func (it *iterator) AtHistogram(*histogram.Histogram) (int64, *histogram.Histogram) { return 0, nil }

func (it *iterator) AtFloatHistogram(*histogram.FloatHistogram) (int64, *histogram.FloatHistogram) {
	return 0, nil
}

func (it *iterator) AtT() int64 {
	if it.index < 0 || it.index >= len(it.samples) {
		return 0
	}
	return it.samples[it.index].Timestamp
}

func (it *iterator) Err() error { return nil }

type seriesSet struct {
	series []promstorage.Series
	index  int
}

func (s *seriesSet) Next() bool {
	s.index++
	return s.index < len(s.series)
}

func (s *seriesSet) At() promstorage.Series {
	if s.index < 0 || s.index >= len(s.series) {
		return nil
	}
	return s.series[s.index]
}

func (s *seriesSet) Err() error                        { return nil }
func (s *seriesSet) Warnings() annotations.Annotations { return nil }
