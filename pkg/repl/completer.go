package repl

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jjo/promql-assist/pkg/assist"
	"github.com/jjo/promql-assist/pkg/language"
)

// completionTimeout bounds a single provider round trip from the editor.
const completionTimeout = 2 * time.Second

// Candidate is one completion: Replace is the typed word being completed, Text what
// replaces it.
type Candidate struct {
	Replace string
	Text    string
	Detail  string
}

// Candidates computes completions for line with the cursor at byte offset pos.
// Dot-commands complete locally; everything else goes through the controller.
func Candidates(ctx context.Context, c *assist.Controller, line string, pos int) []Candidate {
	if pos > len(line) {
		pos = len(line)
	}
	before := line[:pos]
	if trimmed := strings.TrimLeft(before, " \t"); strings.HasPrefix(trimmed, ".") && !strings.ContainsAny(trimmed, " \t") {
		var out []Candidate
		for _, name := range CommandNames() {
			if strings.HasPrefix(name, trimmed) {
				out = append(out, Candidate{Replace: trimmed, Text: name, Detail: Commands[name]})
			}
		}
		return out
	}

	ctx, cancel := context.WithTimeout(ctx, completionTimeout)
	defer cancel()
	in := language.InputAt(line, pos)
	seq, err := c.Complete(ctx, in)
	if err != nil {
		return nil
	}
	word := currentWord(before)
	var out []Candidate
	seen := map[string]struct{}{}
	for s := range seq {
		if _, dup := seen[s.Text]; dup {
			continue
		}
		seen[s.Text] = struct{}{}
		out = append(out, Candidate{Replace: word, Text: s.Text, Detail: s.Detail})
	}
	return out
}

// currentWord returns the text after the last PromQL separator.
func currentWord(before string) string {
	if i := strings.LastIndexAny(before, PromQLSeparators); i >= 0 {
		return before[i+1:]
	}
	return before
}

// readlineCompleter adapts Candidates to readline's suffix based AutoCompleter. Readline
// cannot touch text before the cursor, so a label value typed without its opening quote
// is completed as a suffix and the quote is inserted by applyQuote from the listener,
// which readline calls right after the Tab key was handled.
type readlineCompleter struct {
	ctrl *assist.Controller

	mu      sync.Mutex
	quoteAt int
}

func newReadlineCompleter(ctrl *assist.Controller) *readlineCompleter {
	return &readlineCompleter{ctrl: ctrl, quoteAt: -1}
}

func (rc *readlineCompleter) Do(line []rune, pos int) ([][]rune, int) {
	before := string(line[:pos])
	cands := Candidates(context.Background(), rc.ctrl, string(line), len(before))
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.quoteAt = -1
	if len(cands) == 0 {
		return nil, 0
	}
	word := cands[0].Replace
	suffixes := make([][]rune, 0, len(cands))
	quoted := false
	for _, c := range cands {
		switch {
		case strings.HasPrefix(c.Text, word):
			suffixes = append(suffixes, []rune(c.Text[len(word):]))
		case strings.HasPrefix(c.Text, `"`+word):
			suffixes = append(suffixes, []rune(c.Text[len(word)+1:]))
			quoted = true
		}
	}
	if quoted {
		rc.quoteAt = pos - runeLen(word)
	}
	return suffixes, runeLen(word)
}

// applyQuote inserts the opening quote recorded by the last Do call at the start of the
// completed value. It reports false when there is nothing to insert.
func (rc *readlineCompleter) applyQuote(line []rune, pos int) ([]rune, int, bool) {
	rc.mu.Lock()
	at := rc.quoteAt
	rc.quoteAt = -1
	rc.mu.Unlock()
	if at < 0 || at > len(line) || at > pos {
		return nil, 0, false
	}
	out := make([]rune, 0, len(line)+1)
	out = append(out, line[:at]...)
	out = append(out, '"')
	out = append(out, line[at:]...)
	return out, pos + 1, true
}

func runeLen(s string) int { return len([]rune(s)) }
