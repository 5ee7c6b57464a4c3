package language

import (
	"regexp"
	"strings"
)

var (
	labelValueRe = regexp.MustCompile(`([a-zA-Z_][a-zA-Z0-9_]*)\s*(!?=~?|!~)\s*("?)([^"]*)$`)
	identTailRe  = regexp.MustCompile(`[a-zA-Z_:][a-zA-Z0-9_:]*$`)
	groupingRe   = regexp.MustCompile(`\b(by|without|on|ignoring|group_left|group_right)\s*\(([^()]*)$`)
)

// InputAt derives a typeahead request for a cursor at byte offset pos of line. Terminal
// hosts have no syntax-highlighting editor to tag tokens, so the wrapper classes are
// inferred from the unclosed brackets before the cursor.
func InputAt(line string, pos int) TypeaheadInput {
	if pos < 0 {
		pos = 0
	}
	if pos > len(line) {
		pos = len(line)
	}
	before, after := line[:pos], line[pos:]
	in := TypeaheadInput{Value: CursorValue{TextBeforeCursor: before, TextAfterCursor: after}}

	if open := strings.LastIndex(before, "["); open > strings.LastIndex(before, "]") {
		in.WrapperClasses = []string{ContextRange}
		in.Prefix = before[open+1:]
		in.Text = in.Prefix
		return in
	}

	if open := strings.LastIndex(before, "{"); open > strings.LastIndex(before, "}") {
		part := before[open+1:]
		if m := labelValueRe.FindStringSubmatch(part); m != nil && !closedValue(part) {
			in.WrapperClasses = []string{ContextLabels, ContextLabelValues}
			in.LabelKey = m[1]
			in.Prefix = m[4]
			in.Text = m[2] + m[3] + m[4]
			return in
		}
		in.WrapperClasses = []string{ContextLabels}
		in.Prefix = identTailRe.FindString(part)
		in.Text = in.Prefix
		return in
	}

	if m := groupingRe.FindStringSubmatch(before); m != nil {
		in.WrapperClasses = []string{ContextAggregation}
		in.Prefix = identTailRe.FindString(m[2])
		in.Text = in.Prefix
		return in
	}

	in.Prefix = identTailRe.FindString(before)
	in.Text = in.Prefix
	return in
}

// closedValue reports whether the last matcher in part already has its closing quote,
// meaning the cursor sits after a complete matcher rather than inside a value.
func closedValue(part string) bool {
	idx := strings.LastIndexAny(part, "=~")
	if idx < 0 {
		return false
	}
	return strings.Count(part[idx:], `"`) >= 2
}
