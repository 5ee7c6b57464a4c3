package assist

import (
	"context"
	"fmt"
	"iter"
	"regexp"

	"github.com/jjo/promql-assist/pkg/language"
)

// typedOpeningQuote matches typeahead text that already carries the opening quote of a
// label value, with or without the matcher operator in front.
var typedOpeningQuote = regexp.MustCompile(`^(=~|!~|!=|=)?"`)

// Suggestion is a completion ready to insert.
type Suggestion struct {
	Group  string `json:"group"`
	Label  string `json:"label"`
	Text   string `json:"text"`
	Detail string `json:"detail,omitempty"`
}

// ApplySuggestion transforms suggestion before insertion according to the context it was
// generated for.
func ApplySuggestion(typeaheadContext string, in language.TypeaheadInput, suggestion string) string {
	switch typeaheadContext {
	case language.ContextLabels:
		switch in.Value.NextChar() {
		case "", "}", ",":
			return suggestion + "="
		}
	case language.ContextLabelValues:
		if !typedOpeningQuote.MatchString(in.Text) {
			suggestion = `"` + suggestion
		}
		if in.Value.NextChar() != `"` {
			suggestion += `"`
		}
	}
	return suggestion
}

// Complete asks the provider for suggestions. The returned sequence is restartable and
// yields transformed suggestions lazily; with no provider attached it is empty.
func (c *Controller) Complete(ctx context.Context, in language.TypeaheadInput) (iter.Seq[Suggestion], error) {
	c.mu.Lock()
	p := c.provider
	history := c.recentHistory()
	c.mu.Unlock()
	if p == nil {
		return func(func(Suggestion) bool) {}, nil
	}

	opts := language.CompletionOptions{History: history}
	if cat := c.Catalog(); cat != nil {
		opts.Catalog = cat
	}
	res, err := p.ProvideCompletions(ctx, in, opts)
	if err != nil {
		if isCancellation(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrProviderFailure, err)
	}
	if res == nil {
		res = &language.CompletionResult{}
	}
	observeCompletion(res.Context)
	return suggestionSeq(res, in), nil
}

func suggestionSeq(res *language.CompletionResult, in language.TypeaheadInput) iter.Seq[Suggestion] {
	return func(yield func(Suggestion) bool) {
		for _, g := range res.Suggestions {
			for _, item := range g.Items {
				s := Suggestion{
					Group:  g.Label,
					Label:  item.Label,
					Text:   ApplySuggestion(res.Context, in, item.Text()),
					Detail: item.Detail,
				}
				if !yield(s) {
					return
				}
			}
		}
	}
}
