// Package rpc exposes an assist.Controller to editor integrations over JSON-RPC 2.0.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/jjo/promql-assist/pkg/assist"
	"github.com/jjo/promql-assist/pkg/language"
)

// Server binds one controller to one connection.
type Server struct {
	mu     sync.Mutex
	conn   *jsonrpc2.Conn
	ctrl   *assist.Controller
	logger *slog.Logger
	// repairs tracks background repair requests so Serve can wait for them.
	repairs sync.WaitGroup
}

// NewServer returns a server with no controller attached.
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Server{logger: logger.With("component", "rpc")}
}

// Hooks installs the controller callbacks that forward events as notifications. Callbacks
// already present in opts keep running after the notification.
func (s *Server) Hooks(opts assist.Options) assist.Options {
	onChange, onRun, onError, onCatalog := opts.OnChange, opts.OnRunQuery, opts.OnError, opts.OnCatalog
	opts.OnChange = func(text string) {
		s.notify(NotifyChange, TextParams{Text: text})
		if onChange != nil {
			onChange(text)
		}
	}
	opts.OnRunQuery = func() {
		s.notify(NotifyRunQuery, nil)
		if onRun != nil {
			onRun()
		}
	}
	opts.OnError = func(err error) {
		s.notify(NotifyError, CatalogEvent{Error: err.Error()})
		if onError != nil {
			onError(err)
		}
	}
	opts.OnCatalog = func(cat *assist.Catalog) {
		s.notify(NotifyCatalog, CatalogEvent{Ready: cat.Ready(), Metrics: len(cat.MetricNames())})
		if onCatalog != nil {
			onCatalog(cat)
		}
	}
	return opts
}

// Attach sets the controller requests are dispatched to.
func (s *Server) Attach(c *assist.Controller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctrl = c
}

// Serve runs the connection over rwc until the peer disconnects or ctx ends.
func (s *Server) Serve(ctx context.Context, rwc io.ReadWriteCloser) error {
	conn := jsonrpc2.NewConn(ctx, jsonrpc2.NewPlainObjectStream(rwc), jsonrpc2.HandlerWithError(s.handle))
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.logger.Info("JSON-RPC connection established")

	select {
	case <-conn.DisconnectNotify():
	case <-ctx.Done():
		_ = conn.Close()
	}
	s.repairs.Wait()
	s.mu.Lock()
	s.conn = nil
	s.mu.Unlock()
	s.logger.Info("JSON-RPC connection closed")
	return ctx.Err()
}

// StdioConn adapts separate reader and writer streams; Close leaves both open.
type StdioConn struct {
	R io.Reader
	W io.Writer
}

func (c StdioConn) Read(p []byte) (int, error)  { return c.R.Read(p) }
func (c StdioConn) Write(p []byte) (int, error) { return c.W.Write(p) }
func (c StdioConn) Close() error                { return nil }

func (s *Server) notify(method string, params any) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Notify(context.Background(), method, params); err != nil {
		s.logger.Warn("notification failed", "method", method, "error", err)
	}
}

func (s *Server) controller() *assist.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl
}

func (s *Server) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (result any, err error) {
	logger := s.logger.With("method", req.Method)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic recovered in handler", "panic", r, "stack", string(debug.Stack()))
			result, err = nil, &jsonrpc2.Error{Code: CodeInternalError, Message: fmt.Sprintf("internal error in %s", req.Method)}
		}
	}()
	logger.Debug("request received", "notification", req.Notif)

	c := s.controller()
	if c == nil {
		return nil, &jsonrpc2.Error{Code: CodeNotAttached, Message: "no controller attached"}
	}
	params := func(target any) error {
		if req.Params == nil || string(*req.Params) == "null" {
			return &jsonrpc2.Error{Code: CodeInvalidParams, Message: "params field is null"}
		}
		if err := json.Unmarshal(*req.Params, target); err != nil {
			return &jsonrpc2.Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid %s params: %v", req.Method, err)}
		}
		return nil
	}

	switch req.Method {
	case "mount":
		c.Mount(ctx)
		return c.View(), nil

	case "unmount":
		c.Unmount()
		return c.View(), nil

	case "rangeChanged":
		var p WindowParams
		if err := params(&p); err != nil {
			return nil, err
		}
		return RangeResult{Refreshing: c.RangeChanged(p.Window) != nil}, nil

	case "edit":
		var p TextParams
		if err := params(&p); err != nil {
			return nil, err
		}
		c.Edit(p.Text)
		return c.View(), nil

	case "runQuery":
		data, err := c.RunQuery(ctx)
		if err != nil {
			return nil, toRPCError(err)
		}
		return RunQueryResult{Data: data, View: c.View()}, nil

	case "typeahead":
		var p TypeaheadParams
		if err := params(&p); err != nil {
			return nil, err
		}
		in := language.InputAt(p.Line, p.Cursor)
		seq, err := c.Complete(ctx, in)
		if err != nil {
			return nil, toRPCError(err)
		}
		res := TypeaheadResult{Context: typeaheadContext(in), Suggestions: []assist.Suggestion{}}
		for sug := range seq {
			res.Suggestions = append(res.Suggestions, sug)
		}
		return res, nil

	case "applyHintFix":
		if err := c.ApplyHintFix(); err != nil {
			return nil, toRPCError(err)
		}
		return c.View(), nil

	case "repair":
		if err := c.RepairReady(); err != nil {
			return nil, toRPCError(err)
		}
		s.repairs.Add(1)
		go func() {
			defer s.repairs.Done()
			if err := c.RequestRepair(context.Background()); err != nil {
				logger.Warn("repair not started", "error", err)
			}
			s.notify(NotifyRepair, c.Repair())
		}()
		return RepairAck{Started: true}, nil

	case "acceptRepair":
		if err := c.AcceptRepair(); err != nil {
			return nil, toRPCError(err)
		}
		return c.View(), nil

	case "closeRepair":
		c.CloseRepair()
		return c.View(), nil

	case "selectLabels":
		var p SelectLabelsParams
		if err := params(&p); err != nil {
			return nil, err
		}
		if err := c.SelectFromLabelBrowser(p.Selector, p.Labels); err != nil {
			logger.Warn("labels not saved", "error", err)
		}
		return c.View(), nil

	case "view":
		return c.View(), nil

	default:
		logger.Warn("unhandled method")
		return nil, &jsonrpc2.Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method not supported: %s", req.Method)}
	}
}

// typeaheadContext mirrors the context the language provider derives for in.
func typeaheadContext(in language.TypeaheadInput) string {
	for _, c := range []string{language.ContextLabelValues, language.ContextLabels, language.ContextRange, language.ContextAggregation} {
		if in.HasClass(c) {
			return c
		}
	}
	return ""
}

func toRPCError(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return &jsonrpc2.Error{Code: CodeRequestCancelled, Message: "request cancelled"}
	case errors.Is(err, assist.ErrProviderFailure):
		return &jsonrpc2.Error{Code: CodeInternalError, Message: err.Error()}
	}
	return &jsonrpc2.Error{Code: CodeRequestFailed, Message: err.Error()}
}
