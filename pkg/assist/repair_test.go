package assist

import (
	"context"
	"strings"
	"testing"

	"github.com/jjo/promql-assist/pkg/ai"
	"github.com/jjo/promql-assist/pkg/datasource"
)

func failed(msg string) *datasource.Data {
	return &datasource.Data{Errors: []datasource.QueryError{{Message: msg}}}
}

func TestRepairMessages(t *testing.T) {
	msgs := repairMessages("sum(rate(x[5m])", "unclosed left parenthesis")
	if len(msgs) != 2 || msgs[0].Role != ai.RoleSystem || msgs[1].Role != ai.RoleUser {
		t.Fatalf("unexpected roles: %+v", msgs)
	}
	want := "Query:\n```\nsum(rate(x[5m])\n```\n\nError:\n```\nunclosed left parenthesis\n```\n"
	if msgs[1].Content != want {
		t.Fatalf("user message got %q want %q", msgs[1].Content, want)
	}
	if !strings.Contains(msgs[0].Content, `"#"`) {
		t.Fatalf("system message must state the comment rule: %q", msgs[0].Content)
	}
	if got := repairMessages("up", "")[1].Content; strings.Contains(got, "Error:") {
		t.Fatalf("error block must be omitted without an error: %q", got)
	}
}

func TestRepair_Preconditions(t *testing.T) {
	c := newController(t, Options{})
	if err := c.RequestRepair(context.Background()); err != ErrNoExecutionError {
		t.Fatalf("expected ErrNoExecutionError, got %v", err)
	}
	if c.CanRepair() {
		t.Fatalf("repair must not be actionable without an error")
	}
	if err := c.RepairReady(); err != ErrNoExecutionError {
		t.Fatalf("RepairReady: expected ErrNoExecutionError, got %v", err)
	}
	c.ResultsChanged(failed("bad"))
	if !c.CanRepair() {
		t.Fatalf("repair must be actionable after a failed execution")
	}
	if err := c.RepairReady(); err != ErrNoAIClient {
		t.Fatalf("RepairReady: expected ErrNoAIClient, got %v", err)
	}
	if err := c.RequestRepair(context.Background()); err != ErrNoAIClient {
		t.Fatalf("expected ErrNoAIClient, got %v", err)
	}
	if err := c.AcceptRepair(); err != ErrNothingStaged {
		t.Fatalf("expected ErrNothingStaged, got %v", err)
	}
}

func TestRepair_StageAndAccept(t *testing.T) {
	gate := make(chan struct{})
	client := &fakeAI{gate: gate, resp: "  sum(rate(x[5m]))\n"}
	rec := &recorder{}
	c := newController(t, rec.options(Options{AIClient: client, AI: ai.Config{Model: "gpt-test"}, InitialQuery: "sum(rate(x[5m])"}))
	c.ResultsChanged(failed("unclosed left parenthesis"))

	errc := make(chan error, 1)
	go func() { errc <- c.RequestRepair(context.Background()) }()
	eventually(t, func() bool { return c.Repair().Status == RepairLoading })
	if c.CanRepair() {
		t.Fatalf("repair must not be actionable while loading")
	}
	if err := c.RequestRepair(context.Background()); err != ErrRepairInProgress {
		t.Fatalf("expected ErrRepairInProgress, got %v", err)
	}
	close(gate)
	if err := <-errc; err != nil {
		t.Fatalf("RequestRepair failed: %v", err)
	}

	s := c.Repair()
	if s.Status != RepairStaged || s.Staged != "sum(rate(x[5m]))" || s.ID == "" || s.Error != "unclosed left parenthesis" {
		t.Fatalf("unexpected session: %+v", s)
	}
	if c.Query() != "sum(rate(x[5m])" {
		t.Fatalf("staging must not touch the live query")
	}
	client.mu.Lock()
	req := client.reqs[0]
	client.mu.Unlock()
	if req.Model != "gpt-test" || !strings.Contains(req.Messages[1].Content, "unclosed left parenthesis") {
		t.Fatalf("unexpected chat request: %+v", req)
	}

	if err := c.AcceptRepair(); err != nil {
		t.Fatalf("AcceptRepair failed: %v", err)
	}
	if c.Query() != "sum(rate(x[5m]))" || c.Repair().Status != RepairIdle {
		t.Fatalf("accept must replace the query and reset the session")
	}
	changes, runs, _ := rec.snapshot()
	if len(changes) != 1 || changes[0] != "sum(rate(x[5m]))" || runs != 1 {
		t.Fatalf("expected change then run, got %v runs=%d", changes, runs)
	}
}

func TestRepair_FailureReturnsToIdle(t *testing.T) {
	c := newController(t, Options{AIClient: &fakeAI{err: errBoom}})
	c.ResultsChanged(failed("bad"))
	if err := c.RequestRepair(context.Background()); err != nil {
		t.Fatalf("service failures must not be returned, got %v", err)
	}
	if s := c.Repair(); s.Status != RepairIdle || s.Staged != "" {
		t.Fatalf("expected idle session, got %+v", s)
	}
	if !c.CanRepair() {
		t.Fatalf("repair must be retryable after a failure")
	}
}

func TestRepair_EmptyResponseFallsBack(t *testing.T) {
	c := newController(t, Options{AIClient: &fakeAI{resp: "   "}, InitialQuery: "up(("})
	c.ResultsChanged(failed("bad"))
	if err := c.RequestRepair(context.Background()); err != nil {
		t.Fatalf("RequestRepair failed: %v", err)
	}
	if s := c.Repair(); s.Status != RepairStaged || s.Staged != "up((" {
		t.Fatalf("expected fallback to the original query, got %+v", s)
	}
}

func TestRepair_CloseAndEditDiscard(t *testing.T) {
	rec := &recorder{}
	c := newController(t, rec.options(Options{AIClient: &fakeAI{resp: "up"}, InitialQuery: "up{"}))
	c.ResultsChanged(failed("bad"))

	if err := c.RequestRepair(context.Background()); err != nil {
		t.Fatalf("RequestRepair failed: %v", err)
	}
	c.CloseRepair()
	if c.Repair().Status != RepairIdle || c.Query() != "up{" {
		t.Fatalf("close must discard the rewrite and keep the query")
	}

	if err := c.RequestRepair(context.Background()); err != nil {
		t.Fatalf("RequestRepair failed: %v", err)
	}
	c.Edit("up{job")
	if c.Repair().Status != RepairIdle {
		t.Fatalf("an edit must discard the staged rewrite")
	}
	if _, runs, _ := rec.snapshot(); runs != 0 {
		t.Fatalf("close and edit must not run the query")
	}
}

func TestRepair_StaleResponseDropped(t *testing.T) {
	gate := make(chan struct{})
	client := &fakeAI{gate: gate, resp: "late"}
	c := newController(t, Options{AIClient: client})
	c.ResultsChanged(failed("bad"))

	errc := make(chan error, 1)
	go func() { errc <- c.RequestRepair(context.Background()) }()
	eventually(t, func() bool { return c.Repair().Status == RepairLoading })

	// A new session replaces the loading one before the response lands.
	c.mu.Lock()
	c.session = RepairSession{ID: "other", Status: RepairIdle}
	c.mu.Unlock()
	close(gate)
	if err := <-errc; err != nil {
		t.Fatalf("RequestRepair failed: %v", err)
	}
	if s := c.Repair(); s.ID != "other" || s.Staged != "" {
		t.Fatalf("stale response must be dropped, got %+v", s)
	}
}

func TestRepair_EditWhileLoadingDiscards(t *testing.T) {
	gate := make(chan struct{})
	c := newController(t, Options{AIClient: &fakeAI{gate: gate, resp: "up"}, InitialQuery: "up{"})
	c.ResultsChanged(failed("bad"))

	errc := make(chan error, 1)
	go func() { errc <- c.RequestRepair(context.Background()) }()
	eventually(t, func() bool { return c.Repair().Status == RepairLoading })

	c.Edit("up{job")
	if s := c.Repair(); s.Status != RepairIdle {
		t.Fatalf("an edit must reset a loading repair, got %+v", s)
	}
	close(gate)
	if err := <-errc; err != nil {
		t.Fatalf("RequestRepair failed: %v", err)
	}
	if s := c.Repair(); s.Status != RepairIdle || s.Staged != "" {
		t.Fatalf("late response must be dropped after an edit, got %+v", s)
	}
	if c.Query() != "up{job" {
		t.Fatalf("query got %q", c.Query())
	}
}
