// Package language supplies PromQL syntax knowledge to the assistance controller:
// catalog bootstrap, completion generation and query hints.
package language

import (
	"context"

	"github.com/jjo/promql-assist/pkg/datasource"
)

// Wrapper classes attached by the editor to the token under the cursor.
const (
	ContextLabels      = "context-labels"
	ContextLabelValues = "context-label-values"
	ContextRange       = "context-range"
	ContextAggregation = "context-aggregation"
)

// CursorValue is the editor text split at the cursor.
type CursorValue struct {
	TextBeforeCursor string `json:"textBeforeCursor"`
	TextAfterCursor  string `json:"textAfterCursor"`
}

// NextChar returns the character right after the cursor, or "" at end of text.
func (v CursorValue) NextChar() string {
	for _, r := range v.TextAfterCursor {
		return string(r)
	}
	return ""
}

// TypeaheadInput describes a completion request.
type TypeaheadInput struct {
	// Prefix is the part of the current token used to filter suggestions.
	Prefix string `json:"prefix"`
	// Text is the raw token under the cursor, including any operator or quote typed.
	Text           string      `json:"text"`
	Value          CursorValue `json:"value"`
	WrapperClasses []string    `json:"wrapperClasses,omitempty"`
	LabelKey       string      `json:"labelKey,omitempty"`
}

// HasClass reports whether the token carries the wrapper class c.
func (in TypeaheadInput) HasClass(c string) bool {
	for _, w := range in.WrapperClasses {
		if w == c {
			return true
		}
	}
	return false
}

// CompletionItem is a single suggestion.
type CompletionItem struct {
	Label      string `json:"label"`
	InsertText string `json:"insertText,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// Text returns what should be inserted for the item.
func (c CompletionItem) Text() string {
	if c.InsertText != "" {
		return c.InsertText
	}
	return c.Label
}

// SuggestionGroup is a labelled block of suggestions.
type SuggestionGroup struct {
	Label string           `json:"label"`
	Items []CompletionItem `json:"items"`
}

// CompletionResult is what a provider generates for one request.
type CompletionResult struct {
	// Context names the syntactic position suggestions were generated for.
	Context     string            `json:"context,omitempty"`
	Suggestions []SuggestionGroup `json:"suggestions"`
}

// Identifiers is a read-only view over the identifier catalog.
type Identifiers interface {
	MetricNames() []string
	LabelNames() []string
	LabelValues(name string) []string
	Ready() bool
}

// CompletionOptions carries ranking inputs for a completion request.
type CompletionOptions struct {
	// History holds recent queries, newest first.
	History []string
	Catalog Identifiers
}

// Task is a pending bootstrap sub-task.
type Task func(ctx context.Context) error

// Fix is the corrective action attached to a hint.
type Fix struct {
	Label  string               `json:"label"`
	Action datasource.FixAction `json:"action"`
}

// Hint is an advisory message about the current query.
type Hint struct {
	Type  string `json:"type"`
	Label string `json:"label"`
	Fix   *Fix   `json:"fix,omitempty"`
}

// Provider is the language capability the controller orchestrates.
type Provider interface {
	// Bootstrap starts a catalog load and returns the sub-tasks that must all complete
	// before Metrics, LabelNames and LabelValues reflect it.
	Bootstrap(ctx context.Context) ([]Task, error)
	ProvideCompletions(ctx context.Context, in TypeaheadInput, opts CompletionOptions) (*CompletionResult, error)
	InitialHints(query string) []Hint
	QueryHints(query string, series []datasource.Series) []Hint
	Metrics() []string
	LabelNames() []string
	LabelValues() map[string][]string
}

// RangeAware providers scope their lookups to the visible time window.
type RangeAware interface {
	SetRange(w datasource.TimeWindow)
}
