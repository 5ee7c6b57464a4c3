package datasource

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/prometheus/promql/parser"
)

// DefaultRateRange is the range selector added by ADD_RATE fixes.
const DefaultRateRange = "5m"

// ModifyQuery rewrites query according to action. Unknown actions and unparsable
// queries are returned unchanged.
func ModifyQuery(query string, action FixAction) string {
	expr, err := parser.ParseExpr(query)
	if err != nil {
		return query
	}
	switch action.Type {
	case ActionAddRate:
		switch e := expr.(type) {
		case *parser.VectorSelector:
			return fmt.Sprintf("rate(%s[%s])", e.String(), DefaultRateRange)
		case *parser.MatrixSelector:
			return fmt.Sprintf("rate(%s)", e.String())
		}
		return query
	case ActionAddHistogramQuantile:
		inner := expr.String()
		if _, ok := expr.(*parser.VectorSelector); ok {
			inner = fmt.Sprintf("rate(%s[%s])", inner, DefaultRateRange)
		}
		return fmt.Sprintf("histogram_quantile(0.95, sum(%s) by (le))", inner)
	case ActionAddSum:
		return fmt.Sprintf("sum(%s)", expr.String())
	case ActionExpandRules:
		return expandRules(query, expr, action.Options)
	}
	return query
}

// expandRules substitutes every selector naming a recording rule with the rule's
// expression, keeping the rest of the query text intact.
func expandRules(query string, expr parser.Expr, rules map[string]string) string {
	if len(rules) == 0 {
		return query
	}
	type span struct {
		start, end int
		text       string
	}
	var spans []span
	parser.Inspect(expr, func(node parser.Node, _ []parser.Node) error {
		vs, ok := node.(*parser.VectorSelector)
		if !ok {
			return nil
		}
		rule, ok := rules[vs.Name]
		if !ok {
			return nil
		}
		pr := vs.PositionRange()
		spans = append(spans, span{start: int(pr.Start), end: int(pr.End), text: "(" + rule + ")"})
		return nil
	})
	if len(spans) == 0 {
		return query
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start > spans[j].start })
	out := query
	for _, s := range spans {
		if s.start < 0 || s.end > len(out) || s.start > s.end {
			continue
		}
		out = out[:s.start] + s.text + out[s.end:]
	}
	return strings.TrimSpace(out)
}
