package assist

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/jjo/promql-assist/pkg/ai"
)

// RepairStatus is the state of the AI repair session.
type RepairStatus string

const (
	RepairIdle    RepairStatus = "idle"
	RepairLoading RepairStatus = "loading"
	RepairStaged  RepairStatus = "staged"
)

// RepairSession is the staged-rewrite life cycle of one repair request.
type RepairSession struct {
	ID     string       `json:"id,omitempty"`
	Query  string       `json:"query,omitempty"`
	Error  string       `json:"error,omitempty"`
	Status RepairStatus `json:"status"`
	Staged string       `json:"staged,omitempty"`
}

// Repair outcomes recorded in metrics.
const (
	repairStaged   = "staged"
	repairFailed   = "failed"
	repairDropped  = "dropped"
	repairFallback = "fallback"
)

const repairPreamble = `You are a PromQL expert fixing a query that failed to execute.
Reply with a single valid PromQL query and nothing else: no prose, no markdown, no code fences.
If you need to explain the change, write the explanation as PromQL comments, one per line, each starting with "#".`

// repairMessages builds the conversation sent to the chat service. The error block is
// left out when no error message is known.
func repairMessages(query, errMsg string) []ai.Message {
	var b strings.Builder
	b.WriteString("Query:\n```\n")
	b.WriteString(query)
	b.WriteString("\n```\n")
	if errMsg != "" {
		b.WriteString("\nError:\n```\n")
		b.WriteString(errMsg)
		b.WriteString("\n```\n")
	}
	return []ai.Message{
		{Role: ai.RoleSystem, Content: repairPreamble},
		{Role: ai.RoleUser, Content: b.String()},
	}
}

// CanRepair reports whether the repair control is actionable.
func (c *Controller) CanRepair() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canRepairLocked()
}

func (c *Controller) canRepairLocked() bool {
	return c.last != nil && len(c.last.Errors) > 0 && c.session.Status != RepairLoading
}

// RepairReady returns the error RequestRepair would fail with before contacting the
// chat service, or nil.
func (c *Controller) RepairReady() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.repairReadyLocked()
}

func (c *Controller) repairReadyLocked() error {
	switch {
	case c.last == nil || len(c.last.Errors) == 0:
		return ErrNoExecutionError
	case c.session.Status == RepairLoading:
		return ErrRepairInProgress
	case c.ai == nil:
		return ErrNoAIClient
	}
	return nil
}

// RequestRepair sends the failed query and its first error to the chat service and
// stages the returned rewrite. Service failures are logged and leave the session idle;
// they are not returned.
func (c *Controller) RequestRepair(ctx context.Context) error {
	c.mu.Lock()
	if err := c.repairReadyLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	session := RepairSession{
		ID:     uuid.NewString(),
		Query:  c.query,
		Error:  c.last.Errors[0].Message,
		Status: RepairLoading,
	}
	c.session = session
	client, model := c.ai, c.aiModel
	logger := c.logger.With("repair", session.ID)
	c.mu.Unlock()

	logger.Debug("repair requested", "query", session.Query)
	resp, err := client.Chat(ctx, ai.ChatRequest{Model: model, Messages: repairMessages(session.Query, session.Error)})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.ID != session.ID {
		observeRepair(repairDropped)
		return nil
	}
	if err != nil {
		logger.Error("repair request failed", "error", err)
		observeRepair(repairFailed)
		c.session = RepairSession{Status: RepairIdle}
		return nil
	}
	staged := strings.TrimSpace(resp.FirstContent())
	outcome := repairStaged
	if staged == "" {
		staged = session.Query
		outcome = repairFallback
	}
	observeRepair(outcome)
	session.Status = RepairStaged
	session.Staged = staged
	c.session = session
	logger.Debug("repair staged", "staged", staged)
	return nil
}

// AcceptRepair replaces the live query with the staged rewrite and asks the host to run it.
func (c *Controller) AcceptRepair() error {
	c.mu.Lock()
	if c.session.Status != RepairStaged {
		c.mu.Unlock()
		return ErrNothingStaged
	}
	text := c.session.Staged
	c.query = text
	c.session = RepairSession{Status: RepairIdle}
	onChange, onRun := c.onChange, c.onRunQuery
	c.mu.Unlock()

	onChange(text)
	onRun()
	return nil
}

// CloseRepair discards any staged rewrite.
func (c *Controller) CloseRepair() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session.Status == RepairStaged {
		c.session = RepairSession{Status: RepairIdle}
	}
}

// Repair returns the current session.
func (c *Controller) Repair() RepairSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}
