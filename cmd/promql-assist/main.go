package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v3/ffcli"
	promparser "github.com/prometheus/prometheus/promql/parser"

	"github.com/jjo/promql-assist/pkg/assist"
	"github.com/jjo/promql-assist/pkg/language"
	"github.com/jjo/promql-assist/pkg/repl"
	"github.com/jjo/promql-assist/pkg/rpc"
)

// Version info. Overridden at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func init() {
	promparser.EnableExperimentalFunctions = true
}

// normalizeLongOpts converts GNU-style "--long" options to stdlib-flag style "-long".
// It leaves the "--" end-of-flags marker intact and doesn't touch single-dash or positional args.
func normalizeLongOpts(args []string) []string {
	out := make([]string, 0, len(args))
	seenTerminator := false
	for _, a := range args {
		if seenTerminator {
			out = append(out, a)
			continue
		}
		if a == "--" {
			seenTerminator = true
			out = append(out, a)
			continue
		}
		if strings.HasPrefix(a, "--") && len(a) > 2 {
			out = append(out, "-"+a[2:])
			continue
		}
		out = append(out, a)
	}
	return out
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	root := newRootCommand(os.Stdout, os.Getenv)
	if err := root.ParseAndRun(ctx, normalizeLongOpts(os.Args[1:])); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			root.FlagSet.Usage()
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand(out io.Writer, getenv func(string) string) *ffcli.Command {
	g := &globalFlags{}
	rootFlags := flag.NewFlagSet("promql-assist", flag.ContinueOnError)
	rootFlags.StringVar(&g.configPath, "config", "", "YAML config file (env PROMQL_ASSIST_CONFIG)")
	rootFlags.StringVar(&g.url, "url", "", "Prometheus API address")
	rootFlags.StringVar(&g.file, "file", "", "metrics file in text exposition format, queried locally")
	rootFlags.StringVar(&g.logLevel, "log-level", "", "debug|info|warn|error")
	rootFlags.BoolVar(&g.noLookups, "no-lookups", false, "disable metric and label lookups")
	rootFlags.Var(&g.ai, "ai", "AI options as key=value pairs (comma/space separated). Example: --ai 'provider=claude model=opus' (env PROMQL_ASSIST_AI)")

	replFlags := flag.NewFlagSet("repl", flag.ContinueOnError)
	backend := replFlags.String("repl", "readline", "editor backend: prompt|readline")
	silent := replFlags.Bool("silent", false, "suppress startup output")
	replFlags.BoolVar(silent, "s", false, "shorthand for --silent")
	query := replFlags.String("query", "", "initial query")
	replFlags.StringVar(query, "q", "", "shorthand for --query")

	replCmd := &ffcli.Command{
		Name:       "repl",
		ShortUsage: "promql-assist [flags] repl [--repl=prompt|readline] [-s]",
		ShortHelp:  "interactive query editor with completion, hints and AI repair",
		FlagSet:    replFlags,
		Exec: func(ctx context.Context, _ []string) error {
			a, err := newApp(ctx, g, getenv)
			if err != nil {
				return err
			}
			defer a.close()

			session := repl.NewSession(repl.SessionOptions{Out: out, History: a.history()})
			opts := a.options(time.Now())
			opts.InitialQuery = *query
			ctrl, err := assist.New(session.Hooks(opts))
			if err != nil {
				return err
			}
			session.Attach(ctrl)
			ctrl.Mount(ctx)
			defer ctrl.Unmount()
			if !*silent && a.ds != nil {
				fmt.Fprintf(out, "Connected to %s\n", a.ds.Name())
			}
			return session.Run(ctx, *backend, *silent)
		},
	}

	serveCmd := &ffcli.Command{
		Name:       "serve",
		ShortUsage: "promql-assist [flags] serve",
		ShortHelp:  "serve the controller over JSON-RPC 2.0 on stdin/stdout",
		Exec: func(ctx context.Context, _ []string) error {
			a, err := newApp(ctx, g, getenv)
			if err != nil {
				return err
			}
			defer a.close()

			srv := rpc.NewServer(a.logger)
			ctrl, err := assist.New(srv.Hooks(a.options(time.Now())))
			if err != nil {
				return err
			}
			srv.Attach(ctrl)
			defer ctrl.Unmount()
			return srv.Serve(ctx, rpc.StdioConn{R: os.Stdin, W: os.Stdout})
		},
	}

	completeFlags := flag.NewFlagSet("complete", flag.ContinueOnError)
	completeTimeout := completeFlags.Duration("timeout", 10*time.Second, "catalog load timeout")
	completeCmd := &ffcli.Command{
		Name:       "complete",
		ShortUsage: "promql-assist [flags] complete <line> [cursor]",
		ShortHelp:  "print completions for line at cursor (default end of line)",
		FlagSet:    completeFlags,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) < 1 || len(args) > 2 {
				return errors.New("complete requires <line> [cursor]")
			}
			line := args[0]
			cursor := len(line)
			if len(args) == 2 {
				n, err := strconv.Atoi(args[1])
				if err != nil || n < 0 {
					return fmt.Errorf("invalid cursor %q", args[1])
				}
				cursor = n
			}
			a, err := newApp(ctx, g, getenv)
			if err != nil {
				return err
			}
			defer a.close()
			ctrl, err := assist.New(a.options(time.Now()))
			if err != nil {
				return err
			}
			defer ctrl.Unmount()
			if err := waitCatalog(ctx, ctrl, *completeTimeout); err != nil {
				return err
			}
			return printCompletions(ctx, out, ctrl, line, cursor)
		},
	}

	hintFlags := flag.NewFlagSet("hint", flag.ContinueOnError)
	output := hintFlags.String("output", "", "result format (json)")
	hintFlags.StringVar(output, "o", "", "shorthand for --output")
	hintTimeout := hintFlags.Duration("timeout", 10*time.Second, "catalog load timeout")
	hintCmd := &ffcli.Command{
		Name:       "hint",
		ShortUsage: "promql-assist [flags] hint [-o json] <query>",
		ShortHelp:  "run a query once and print its result and hint",
		FlagSet:    hintFlags,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return errors.New("hint requires <query>")
			}
			a, err := newApp(ctx, g, getenv)
			if err != nil {
				return err
			}
			defer a.close()
			opts := a.options(time.Now())
			opts.InitialQuery = args[0]
			ctrl, err := assist.New(opts)
			if err != nil {
				return err
			}
			defer ctrl.Unmount()
			if err := waitCatalog(ctx, ctrl, *hintTimeout); err != nil {
				return err
			}
			return runHint(ctx, out, ctrl, strings.EqualFold(*output, "json"))
		},
	}

	versionCmd := &ffcli.Command{
		Name: "version",
		Exec: func(context.Context, []string) error { printVersion(out); return nil },
	}

	return &ffcli.Command{
		Name:        "promql-assist",
		ShortUsage:  "promql-assist [--url=...|--file=...] <subcommand> [flags]",
		FlagSet:     rootFlags,
		Subcommands: []*ffcli.Command{replCmd, serveCmd, completeCmd, hintCmd, versionCmd},
		Exec:        func(context.Context, []string) error { return flag.ErrHelp },
	}
}

// waitCatalog mounts ctrl and blocks until its first catalog load resolves. A failed load
// is reported but does not stop completion: functions and history still apply.
func waitCatalog(ctx context.Context, ctrl *assist.Controller, timeout time.Duration) error {
	h := ctrl.Mount(ctx)
	if h == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	res, err := h.Wait(ctx)
	if err != nil {
		return fmt.Errorf("catalog load: %w", err)
	}
	if res.Err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", res.Err)
	}
	return nil
}

func printCompletions(ctx context.Context, out io.Writer, ctrl *assist.Controller, line string, cursor int) error {
	in := language.InputAt(line, cursor)
	seq, err := ctrl.Complete(ctx, in)
	if err != nil {
		return err
	}
	for s := range seq {
		if s.Detail != "" {
			fmt.Fprintf(out, "%s\t%s\t%s\n", s.Group, s.Text, s.Detail)
			continue
		}
		fmt.Fprintf(out, "%s\t%s\n", s.Group, s.Text)
	}
	return nil
}

func runHint(ctx context.Context, out io.Writer, ctrl *assist.Controller, asJSON bool) error {
	data, err := ctrl.RunQuery(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		return repl.PrintDataJSON(out, data)
	}
	repl.PrintData(out, data)
	if h := ctrl.Hint(); h != nil {
		if h.Fix != nil {
			fmt.Fprintf(out, "Hint: %s (fix: %s)\n", h.Label, h.Fix.Label)
		} else {
			fmt.Fprintf(out, "Hint: %s\n", h.Label)
		}
	}
	return nil
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "promql-assist %s\n", version)
	fmt.Fprintf(w, "  commit: %s\n", commit)
	fmt.Fprintf(w, "  date:   %s\n", date)
}
