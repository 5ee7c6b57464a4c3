// Package repl hosts an assist.Controller in a terminal: a readline editor by default and
// a go-prompt editor when built with the prompt tag.
package repl

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jjo/promql-assist/pkg/assist"
	"github.com/jjo/promql-assist/pkg/datasource"
)

// Separators used for word boundary detection in PromQL text.
const PromQLSeparators = "(){}[]\" \t\n,="

// Session is the terminal side of one controller: it runs queries on request, prints
// results and interprets dot-commands.
type Session struct {
	ctrl *assist.Controller
	out  io.Writer
	now  func() time.Time

	mu         sync.Mutex
	history    []string
	runPending bool
}

// SessionOptions configures a Session.
type SessionOptions struct {
	Out io.Writer
	// History seeds prefix navigation, newest first as HistoryStore returns it.
	History []string
	Now     func() time.Time
}

// NewSession returns a session; Attach binds the controller built from Hooks.
func NewSession(opts SessionOptions) *Session {
	s := &Session{out: opts.Out, now: opts.Now}
	if s.out == nil {
		s.out = os.Stdout
	}
	if s.now == nil {
		s.now = time.Now
	}
	for i := len(opts.History) - 1; i >= 0; i-- {
		s.history = append(s.history, opts.History[i])
	}
	return s
}

// Hooks installs the callbacks through which the controller asks the terminal to run
// the query and reports background failures.
func (s *Session) Hooks(opts assist.Options) assist.Options {
	opts.OnRunQuery = func() {
		s.mu.Lock()
		s.runPending = true
		s.mu.Unlock()
	}
	opts.OnError = func(err error) {
		fmt.Fprintf(s.out, "Warning: %v\n", err)
	}
	return opts
}

// Attach sets the controller commands are applied to.
func (s *Session) Attach(c *assist.Controller) { s.ctrl = c }

// Controller returns the attached controller.
func (s *Session) Controller() *assist.Controller { return s.ctrl }

// History returns executed lines, oldest first.
func (s *Session) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history...)
}

// Execute handles one input line and reports whether the session should end.
func (s *Session) Execute(ctx context.Context, line string) (quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	s.mu.Lock()
	s.history = append(s.history, line)
	s.mu.Unlock()

	if line == "quit" || line == "exit" {
		return true
	}
	if strings.HasPrefix(line, ".") {
		quit = s.command(ctx, line)
	} else {
		s.ctrl.Edit(line)
		s.requestRun()
	}
	s.flushRun(ctx)
	return quit
}

func (s *Session) requestRun() {
	s.mu.Lock()
	s.runPending = true
	s.mu.Unlock()
}

func (s *Session) flushRun(ctx context.Context) {
	s.mu.Lock()
	pending := s.runPending
	s.runPending = false
	s.mu.Unlock()
	if pending {
		s.run(ctx)
	}
}

func (s *Session) run(ctx context.Context) {
	data, err := s.ctrl.RunQuery(ctx)
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	PrintData(s.out, data)
	if s.ctrl.CanRepair() {
		fmt.Fprintln(s.out, "Tip: .ai asks the assistant to repair this query")
		return
	}
	if h := s.ctrl.Hint(); h != nil && h.Fix != nil {
		fmt.Fprintf(s.out, "Hint: %s (.fix to %s)\n", h.Label, strings.ToLower(h.Fix.Label))
	}
}

// Commands lists the dot-commands with their one-line help.
var Commands = map[string]string{
	".help":    "Show this help",
	".hint":    "Show the active hint",
	".fix":     "Apply the active hint's fix and run the result",
	".ai":      "Ask the assistant to repair the last failed query",
	".accept":  "Accept the staged rewrite and run it",
	".close":   "Discard the staged rewrite",
	".range":   "Set the visible window: .range 1h | .range instant",
	".labels":  "Build a selector: .labels <metric> [label=value ...]; bare .labels shows the last used labels",
	".metrics": "List metric names from the catalog",
	".quit":    "Exit",
}

// CommandNames returns the dot-commands sorted.
func CommandNames() []string {
	out := make([]string, 0, len(Commands))
	for name := range Commands {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Session) command(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case ".quit":
		return true
	case ".help":
		for _, name := range CommandNames() {
			fmt.Fprintf(s.out, "  %-9s %s\n", name, Commands[name])
		}
	case ".hint":
		h := s.ctrl.Hint()
		if h == nil {
			fmt.Fprintln(s.out, "No hint")
			return false
		}
		fmt.Fprintf(s.out, "[%s] %s\n", h.Type, h.Label)
		if h.Fix != nil {
			fmt.Fprintf(s.out, "  fix: %s (.fix)\n", h.Fix.Label)
		}
	case ".fix":
		if err := s.ctrl.ApplyHintFix(); err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
			return false
		}
		fmt.Fprintf(s.out, "> %s\n", s.ctrl.Query())
	case ".ai":
		if err := s.ctrl.RequestRepair(ctx); err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
			return false
		}
		r := s.ctrl.Repair()
		if r.Status != assist.RepairStaged {
			fmt.Fprintln(s.out, "The assistant did not return a rewrite")
			return false
		}
		fmt.Fprintf(s.out, "Suggested rewrite:\n  %s\n(.accept to use it, .close to discard)\n", strings.ReplaceAll(r.Staged, "\n", "\n  "))
	case ".accept":
		if err := s.ctrl.AcceptRepair(); err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
			return false
		}
		fmt.Fprintf(s.out, "> %s\n", s.ctrl.Query())
	case ".close":
		s.ctrl.CloseRepair()
	case ".range":
		s.rangeCommand(args)
	case ".labels":
		s.labelsCommand(args)
	case ".metrics":
		v := s.ctrl.View()
		cat := s.ctrl.Catalog()
		if !v.Ready || len(cat.MetricNames()) == 0 {
			fmt.Fprintln(s.out, v.ChooserText)
			return false
		}
		for _, name := range cat.MetricNames() {
			fmt.Fprintf(s.out, "  %s\n", name)
		}
	default:
		fmt.Fprintf(s.out, "Unknown command %s (try .help)\n", cmd)
	}
	return false
}

func (s *Session) rangeCommand(args []string) {
	if len(args) == 0 {
		w := s.ctrl.Window()
		if w.IsZero() {
			fmt.Fprintln(s.out, "Range: instant")
		} else {
			fmt.Fprintf(s.out, "Range: %s to %s\n", w.From.Format(time.RFC3339), w.To.Format(time.RFC3339))
		}
		return
	}
	var w datasource.TimeWindow
	if args[0] != "instant" && args[0] != "0" {
		d, err := time.ParseDuration(args[0])
		if err != nil || d <= 0 {
			fmt.Fprintf(s.out, "Error: invalid range %q\n", args[0])
			return
		}
		w = datasource.LastWindow(s.now(), d)
	}
	if h := s.ctrl.RangeChanged(w); h != nil {
		fmt.Fprintln(s.out, "Refreshing metrics...")
	}
}

func (s *Session) labelsCommand(args []string) {
	if len(args) == 0 {
		last := s.ctrl.View().LastUsedLabels
		if len(last) == 0 {
			fmt.Fprintln(s.out, "No labels used yet")
			return
		}
		fmt.Fprintf(s.out, "Last used labels: %s\n", strings.Join(last, ", "))
		return
	}
	selector, labels, err := BuildSelector(args[0], args[1:])
	if err != nil {
		fmt.Fprintf(s.out, "Error: %v\n", err)
		return
	}
	if err := s.ctrl.SelectFromLabelBrowser(selector, labels); err != nil {
		fmt.Fprintf(s.out, "Warning: %v\n", err)
	}
	fmt.Fprintf(s.out, "> %s\n", selector)
}

// BuildSelector renders metric{k="v",...} from label=value pairs and returns the label
// names in the order given.
func BuildSelector(metric string, pairs []string) (string, []string, error) {
	var b strings.Builder
	b.WriteString(metric)
	labels := make([]string, 0, len(pairs))
	if len(pairs) > 0 {
		b.WriteByte('{')
		for i, pair := range pairs {
			k, v, ok := strings.Cut(pair, "=")
			if !ok || k == "" {
				return "", nil, fmt.Errorf("invalid label matcher %q", pair)
			}
			if i > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, "%s=%q", k, strings.Trim(v, `"`))
			labels = append(labels, k)
		}
		b.WriteByte('}')
	}
	return b.String(), labels, nil
}
