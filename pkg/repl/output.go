package repl

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/common/model"

	"github.com/jjo/promql-assist/pkg/datasource"
)

// PrintData formats query results: one line per sample for instant results, grouped
// points for range results, then any execution errors.
func PrintData(w io.Writer, data *datasource.Data) {
	if data == nil {
		fmt.Fprintln(w, "No results found")
		return
	}
	for _, e := range data.Errors {
		fmt.Fprintf(w, "Error: %s\n", e.Message)
	}
	if len(data.Errors) > 0 && len(data.Series) == 0 {
		return
	}
	if len(data.Series) == 0 {
		fmt.Fprintln(w, "No results found")
		return
	}
	instant := true
	for _, s := range data.Series {
		if len(s.Points) != 1 {
			instant = false
			break
		}
	}
	if instant {
		fmt.Fprintf(w, "Vector (%d samples):\n", len(data.Series))
		for i, s := range data.Series {
			p := s.Points[0]
			fmt.Fprintf(w, "  [%d] %s => %g @ %s\n", i+1, formatLabels(s.Labels), p.V, formatTime(p.T))
		}
		return
	}
	fmt.Fprintf(w, "Matrix (%d series):\n", len(data.Series))
	for i, s := range data.Series {
		fmt.Fprintf(w, "  [%d] %s:\n", i+1, formatLabels(s.Labels))
		for _, p := range s.Points {
			fmt.Fprintf(w, "    %g @ %s\n", p.V, formatTime(p.T))
		}
	}
}

// PrintDataJSON renders data in the Prometheus API result shape.
func PrintDataJSON(w io.Writer, data *datasource.Data) error {
	type seriesJSON struct {
		Metric map[string]string `json:"metric"`
		Values [][2]any          `json:"values"`
	}
	out := struct {
		Status string       `json:"status"`
		Data   []seriesJSON `json:"data"`
		Errors []string     `json:"errors,omitempty"`
	}{Status: "success", Data: []seriesJSON{}}
	for _, s := range data.Series {
		sj := seriesJSON{Metric: s.Labels, Values: [][2]any{}}
		for _, p := range s.Points {
			sj.Values = append(sj.Values, [2]any{float64(p.T) / 1000, fmt.Sprintf("%g", p.V)})
		}
		out.Data = append(out.Data, sj)
	}
	for _, e := range data.Errors {
		out.Status = "error"
		out.Errors = append(out.Errors, e.Message)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func formatTime(ms int64) string {
	return model.Time(ms).Time().UTC().Format(time.RFC3339)
}

func formatLabels(lbls map[string]string) string {
	name := lbls[model.MetricNameLabel]
	keys := make([]string, 0, len(lbls))
	for k := range lbls {
		if k != model.MetricNameLabel {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, lbls[k]))
	}
	return name + "{" + strings.Join(parts, ", ") + "}"
}
