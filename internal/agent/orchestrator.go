package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/orcalabs/orca-agents/internal/backend"
	"github.com/orcalabs/orca-agents/internal/session"
)

// ProcessResult is what the API layer returns to callers.
type ProcessResult struct {
	Reply          string
	ConversationID string
	Model          string
	Elapsed        time.Duration
}

// Orchestrator composes the registry, the backend selector and the
// turn executor to answer "process this message for this conversation".
type Orchestrator struct {
	logger     *slog.Logger
	registry   *session.Registry
	selector   *backend.Selector
	executor   *Executor
	maxHistory int
}

// NewOrchestrator wires the pipeline together.
func NewOrchestrator(logger *slog.Logger, registry *session.Registry, selector *backend.Selector, executor *Executor, maxHistory int) *Orchestrator {
	return &Orchestrator{
		logger:     logger,
		registry:   registry,
		selector:   selector,
		executor:   executor,
		maxHistory: maxHistory,
	}
}

// ProcessMessage runs one full turn: acquire the conversation, pick a
// backend, execute, commit the exchange. Backend failures degrade to a
// conversational reply — the turn is still recorded, so the message
// count and the history advance together whether the backend answered
// or not.
func (o *Orchestrator) ProcessMessage(ctx context.Context, id, message string, useDeep, resetContext bool) ProcessResult {
	start := time.Now()

	conv := o.registry.GetOrCreate(id)
	profile := o.selector.Select(useDeep)

	res := o.executor.Execute(ctx, conv, message, profile, resetContext)

	reply := res.Reply
	steps := res.Steps
	if res.Err != nil {
		o.logger.Error("backend call failed", "conversation", id, "profile", profile.Name, "error", res.Err)
		reply = fmt.Sprintf("I encountered an error: %v", res.Err)
		now := time.Now()
		steps = []session.Step{
			{Role: "user", Content: message, CreatedAt: now},
			{Role: "assistant", Content: reply, CreatedAt: now},
		}
	}

	if _, ok := o.registry.RecordTurn(id, steps, o.maxHistory); !ok {
		// The conversation vanished mid-turn (deleted or swept). The
		// reply is still returned; there is just nothing to commit to.
		o.logger.Warn("conversation gone before commit", "conversation", id)
	}

	elapsed := time.Since(start)
	o.logger.Info("generated response",
		"conversation", id,
		"model", profile.Model,
		"elapsed", elapsed,
		"degraded", res.Err != nil,
	)

	return ProcessResult{
		Reply:          reply,
		ConversationID: id,
		Model:          profile.Model,
		Elapsed:        elapsed,
	}
}

// Stats returns a snapshot of the conversation, or false if unknown.
func (o *Orchestrator) Stats(id string) (session.Snapshot, bool) {
	return o.registry.Stats(id)
}

// ListConversations returns all active conversation IDs.
func (o *Orchestrator) ListConversations() []string {
	return o.registry.ListIDs()
}

// DeleteConversation removes a conversation. Returns whether it existed.
func (o *Orchestrator) DeleteConversation(id string) bool {
	return o.registry.Delete(id)
}

// SweepStale removes conversations idle longer than maxAge and returns
// the number removed.
func (o *Orchestrator) SweepStale(maxAge time.Duration) int {
	return o.registry.SweepStale(maxAge)
}

// RunSweeper drives SweepStale on a ticker until ctx is cancelled.
// Intended to run in its own goroutine. A non-positive interval
// disables sweeping entirely.
func (o *Orchestrator) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		o.logger.Info("stale sweeper disabled", "interval", interval)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	o.logger.Debug("stale sweeper started", "interval", interval, "max_age", maxAge)
	for {
		select {
		case <-ctx.Done():
			o.logger.Debug("stale sweeper stopped")
			return
		case <-ticker.C:
			o.registry.SweepStale(maxAge)
		}
	}
}
