package repl

import "strings"

// historyNav steps through the history entries starting with the text typed before the
// cursor, newest first. The readline and go-prompt editors share it.
type historyNav struct {
	seed    string
	matches []string
	idx     int
	active  bool
}

// filterHistory returns the entries of history (oldest first) that start with prefix,
// newest first. Duplicates are kept so every step moves by one entry.
func filterHistory(prefix string, history []string) []string {
	out := make([]string, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		if prefix == "" || strings.HasPrefix(history[i], prefix) {
			out = append(out, history[i])
		}
	}
	return out
}

// start begins a navigation from line; seed is restored when stepping past the newest match.
func (n *historyNav) start(line, prefix string, history []string) {
	n.seed = line
	n.matches = filterHistory(prefix, history)
	n.idx = -1
	n.active = true
}

func (n *historyNav) reset() { n.active = false }

// older moves one match back and sticks at the oldest one.
func (n *historyNav) older() (string, bool) {
	if !n.active || len(n.matches) == 0 {
		return "", false
	}
	if n.idx < len(n.matches)-1 {
		n.idx++
	}
	return n.matches[n.idx], true
}

// newer moves one match forward; past the newest it returns the seed and ends navigation.
func (n *historyNav) newer() (string, bool) {
	if !n.active || len(n.matches) == 0 {
		return "", false
	}
	n.idx--
	if n.idx < 0 {
		n.active = false
		return n.seed, true
	}
	return n.matches[n.idx], true
}
