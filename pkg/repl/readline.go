package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
)

const (
	keyTab  = rune(9)
	keyDown = rune(14) // Ctrl-N
	keyUp   = rune(16) // Ctrl-P
)

type listenerFunc func(line []rune, pos int, key rune) ([]rune, int, bool)

// listener replaces readline's Up/Down history with prefix filtered navigation when
// text is typed left of the cursor.
func (s *Session) listener(nav *historyNav) listenerFunc {
	return func(line []rune, pos int, key rune) ([]rune, int, bool) {
		if key != keyUp && key != keyDown {
			nav.reset()
			return nil, 0, false
		}
		if !nav.active {
			prefix := string(line[:pos])
			if prefix == "" {
				return nil, 0, false
			}
			nav.start(string(line), prefix, s.History())
		}
		step := nav.newer
		if key == keyUp {
			step = nav.older
		}
		text, ok := step()
		if !ok {
			return nil, 0, false
		}
		cand := []rune(text)
		return cand, len(cand), true
	}
}

func (s *Session) runReadline(ctx context.Context, silent bool) error {
	if !IsTerminal(os.Stdin.Fd()) {
		return s.runBasic(ctx, os.Stdin)
	}
	if !silent {
		fmt.Fprintln(s.out, "Enter PromQL queries (.help for commands, .quit to exit):")
	}
	nav := &historyNav{}
	rc := newReadlineCompleter(s.ctrl)
	history := s.listener(nav)
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		AutoComplete:    rc,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Listener: readline.FuncListener(func(line []rune, pos int, key rune) ([]rune, int, bool) {
			if key == keyTab {
				if out, at, ok := rc.applyQuote(line, pos); ok {
					nav.reset()
					return out, at, true
				}
			}
			return history(line, pos, key)
		}),
	})
	if err != nil {
		fmt.Fprintf(s.out, "Warning: Could not initialize readline, falling back to basic input: %v\n", err)
		return s.runBasic(ctx, os.Stdin)
	}
	defer rl.Close()
	for _, h := range s.History() {
		_ = rl.SaveHistory(h)
	}

	for ctx.Err() == nil {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
		if s.Execute(ctx, line) {
			return nil
		}
	}
	return ctx.Err()
}

// runBasic reads lines without editing support, for pipes and dumb terminals.
func (s *Session) runBasic(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for ctx.Err() == nil && scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if s.Execute(ctx, line) {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return ctx.Err()
}
