package assist

import (
	"github.com/jjo/promql-assist/pkg/datasource"
	"github.com/jjo/promql-assist/pkg/language"
)

// computeHint picks at most one hint: the first initial hint when there are no series,
// otherwise the first result-derived hint, falling back to the initial one.
func computeHint(p language.Provider, query string, series []datasource.Series) *language.Hint {
	if p == nil {
		return nil
	}
	var initial *language.Hint
	if hints := p.InitialHints(query); len(hints) > 0 {
		initial = &hints[0]
	}
	if len(series) == 0 {
		return initial
	}
	if hints := p.QueryHints(query, series); len(hints) > 0 {
		return &hints[0]
	}
	return initial
}

// seriesKey identifies a result-series collection by its backing array, its length and
// the Data value carrying it.
type seriesKey struct {
	data  *datasource.Data
	first *datasource.Series
	n     int
}

func keyOf(data *datasource.Data) seriesKey {
	if data == nil {
		return seriesKey{}
	}
	k := seriesKey{data: data, n: len(data.Series)}
	if len(data.Series) > 0 {
		k.first = &data.Series[0]
	}
	return k
}
