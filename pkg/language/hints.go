package language

import (
	"strings"

	"github.com/prometheus/prometheus/promql/parser"

	"github.com/jjo/promql-assist/pkg/datasource"
)

// Hint types.
const (
	HintGuidance = "GUIDANCE"
	HintWarning  = "WARNING"
)

// manySeriesThreshold is the result size above which an aggregation is suggested.
const manySeriesThreshold = 20

var rateFuncs = map[string]bool{"rate": true, "irate": true, "increase": true}

// InitialHints returns advice derived from the query text alone.
func (p *PromQL) InitialHints(query string) []Hint {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Hint{{Type: HintGuidance, Label: "Start typing a metric name, or press Tab to browse metrics."}}
	}
	expr, err := parser.ParseExpr(query)
	if err != nil {
		return nil
	}
	var hints []Hint
	if ms, ok := expr.(*parser.MatrixSelector); ok {
		hints = append(hints, Hint{
			Type:  datasource.ActionAddRate,
			Label: "A range vector cannot be graphed directly.",
			Fix:   &Fix{Label: "Consider calculating rate of counter by adding rate().", Action: datasource.FixAction{Type: datasource.ActionAddRate, Query: ms.String()}},
		})
	}
	parser.Inspect(expr, func(node parser.Node, _ []parser.Node) error {
		call, ok := node.(*parser.Call)
		if !ok || !rateFuncs[call.Func.Name] {
			return nil
		}
		for _, name := range selectorNames(call) {
			if md, ok := p.Metadata(name); ok && md.Type != "" && md.Type != "counter" && md.Type != "unknown" {
				hints = append(hints, Hint{
					Type:  HintWarning,
					Label: call.Func.Name + "() should only be used with counters; " + name + " is a " + md.Type + ".",
				})
			}
		}
		return nil
	})
	return hints
}

// QueryHints returns advice derived from the query and its result series.
func (p *PromQL) QueryHints(query string, series []datasource.Series) []Hint {
	expr, err := parser.ParseExpr(query)
	if err != nil {
		return nil
	}
	funcs := map[string]bool{}
	aggregated := false
	parser.Inspect(expr, func(node parser.Node, _ []parser.Node) error {
		switch n := node.(type) {
		case *parser.Call:
			funcs[n.Func.Name] = true
		case *parser.AggregateExpr:
			aggregated = true
		}
		return nil
	})

	var hints []Hint
	names := selectorNames(expr)
	if !funcs["histogram_quantile"] {
		for _, s := range series {
			if strings.HasSuffix(s.MetricName(), "_bucket") && s.Labels["le"] != "" {
				hints = append(hints, Hint{
					Type:  datasource.ActionAddHistogramQuantile,
					Label: "Selected metric has buckets.",
					Fix:   &Fix{Label: "Consider calculating aggregated quantile by adding histogram_quantile().", Action: datasource.FixAction{Type: datasource.ActionAddHistogramQuantile, Query: query}},
				})
				break
			}
		}
	}
	if !funcs["rate"] && !funcs["irate"] && !funcs["increase"] {
		for _, name := range names {
			if p.looksLikeCounter(name) {
				hints = append(hints, Hint{
					Type:  datasource.ActionAddRate,
					Label: "Selected metric looks like a counter.",
					Fix:   &Fix{Label: "Consider calculating rate of counter by adding rate().", Action: datasource.FixAction{Type: datasource.ActionAddRate, Query: query}},
				})
				break
			}
		}
	}
	if len(series) > manySeriesThreshold && !aggregated {
		hints = append(hints, Hint{
			Type:  datasource.ActionAddSum,
			Label: "Many time series results returned.",
			Fix:   &Fix{Label: "Consider aggregating with sum().", Action: datasource.FixAction{Type: datasource.ActionAddSum, Query: query}},
		})
	}
	rules := p.RecordingRules()
	mapping := map[string]string{}
	for _, name := range names {
		if def, ok := rules[name]; ok {
			mapping[name] = def
		}
	}
	if len(mapping) > 0 {
		hints = append(hints, Hint{
			Type:  datasource.ActionExpandRules,
			Label: "Query contains recording rules.",
			Fix:   &Fix{Label: "Expand rules", Action: datasource.FixAction{Type: datasource.ActionExpandRules, Query: query, Options: mapping}},
		})
	}
	return hints
}

func (p *PromQL) looksLikeCounter(name string) bool {
	if md, ok := p.Metadata(name); ok && md.Type != "" {
		return md.Type == "counter"
	}
	return strings.HasSuffix(name, "_total")
}

// selectorNames lists the metric names selected anywhere under node, in order.
func selectorNames(node parser.Node) []string {
	var out []string
	seen := map[string]bool{}
	parser.Inspect(node, func(n parser.Node, _ []parser.Node) error {
		vs, ok := n.(*parser.VectorSelector)
		if !ok || vs.Name == "" || seen[vs.Name] {
			return nil
		}
		seen[vs.Name] = true
		out = append(out, vs.Name)
		return nil
	})
	return out
}
