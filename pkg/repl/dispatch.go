//go:build !prompt

package repl

import (
	"context"
	"errors"
)

// ErrPromptNotCompiled is returned when the go-prompt editor is requested from a build
// without the prompt tag.
var ErrPromptNotCompiled = errors.New("--repl=prompt requested but not compiled in; build with: go build -tags prompt")

// Run starts the editor named by backend ("readline" or "prompt").
func (s *Session) Run(ctx context.Context, backend string, silent bool) error {
	if backend == "prompt" {
		return ErrPromptNotCompiled
	}
	return s.runReadline(ctx, silent)
}
