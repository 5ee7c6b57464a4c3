//go:build prompt

package repl

import (
	"context"
	"fmt"
)

// Run starts the editor named by backend ("readline" or "prompt").
func (s *Session) Run(ctx context.Context, backend string, silent bool) error {
	if backend == "prompt" {
		if !silent {
			fmt.Fprintln(s.out, "Using go-prompt backend (--repl=prompt)")
		}
		return s.runPrompt(ctx, silent)
	}
	if !silent {
		fmt.Fprintln(s.out, "Using readline backend (default)")
	}
	return s.runReadline(ctx, silent)
}
