//go:build prompt

package repl

import (
	"context"
	"fmt"
	"os"

	"github.com/c-bata/go-prompt"

	"github.com/jjo/promql-assist/pkg/assist"
)

const suggestionLimit = 100

// promptSuggestions converts candidates for go-prompt, which replaces the word before the
// cursor with the suggestion text.
func promptSuggestions(cands []Candidate) []prompt.Suggest {
	out := make([]prompt.Suggest, 0, len(cands))
	for _, c := range cands {
		if len(out) == suggestionLimit {
			break
		}
		out = append(out, prompt.Suggest{Text: c.Text, Description: c.Detail})
	}
	return out
}

func (s *Session) runPrompt(ctx context.Context, silent bool) error {
	if !silent {
		fmt.Fprintln(s.out, "Enter PromQL queries (.help for commands, .quit to exit):")
	}
	quit := false
	completer := func(d prompt.Document) []prompt.Suggest {
		if d.TextBeforeCursor() == "" {
			return []prompt.Suggest{}
		}
		return promptSuggestions(Candidates(ctx, s.ctrl, d.Text, len(d.TextBeforeCursor())))
	}
	var nav historyNav
	executor := func(line string) {
		nav.reset()
		if s.Execute(ctx, line) {
			quit = true
		}
	}

	replaceLine := func(buf *prompt.Buffer, text string) {
		buf.DeleteBeforeCursor(len([]rune(buf.Document().TextBeforeCursor())))
		buf.Delete(len([]rune(buf.Document().TextAfterCursor())))
		buf.InsertText(text, false, true)
	}

	p := prompt.New(
		executor,
		completer,
		prompt.OptionPrefix("PromQL> "),
		prompt.OptionTitle("promql-assist"),
		prompt.OptionPrefixTextColor(prompt.Blue),
		prompt.OptionLivePrefix(func() (string, bool) {
			switch s.ctrl.Repair().Status {
			case assist.RepairLoading:
				return "AI...> ", true
			case assist.RepairStaged:
				return "PromQL(staged)> ", true
			}
			return "PromQL> ", true
		}),
		prompt.OptionPreviewSuggestionTextColor(prompt.DarkGray),
		prompt.OptionSelectedSuggestionBGColor(prompt.LightGray),
		prompt.OptionSuggestionBGColor(prompt.DarkGray),
		prompt.OptionDescriptionBGColor(prompt.DarkGray),
		prompt.OptionDescriptionTextColor(prompt.White),
		prompt.OptionMaxSuggestion(20),
		prompt.OptionCompletionWordSeparator(PromQLSeparators),
		prompt.OptionSetExitCheckerOnInput(func(string, bool) bool { return quit }),
		prompt.OptionAddKeyBind(prompt.KeyBind{
			Key: prompt.ControlP,
			Fn: func(buf *prompt.Buffer) {
				if !nav.active {
					nav.start(buf.Text(), buf.Document().TextBeforeCursor(), s.History())
				}
				if text, ok := nav.older(); ok {
					replaceLine(buf, text)
				}
			},
		}),
		prompt.OptionAddKeyBind(prompt.KeyBind{
			Key: prompt.ControlN,
			Fn: func(buf *prompt.Buffer) {
				if text, ok := nav.newer(); ok {
					replaceLine(buf, text)
				}
			},
		}),
	)
	p.Run()
	drainFD(int(os.Stdin.Fd()))
	return ctx.Err()
}
