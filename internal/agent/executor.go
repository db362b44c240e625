package agent

import (
	"context"
	"log/slog"
	"sync"

	"github.com/orcalabs/orca-agents/internal/backend"
	"github.com/orcalabs/orca-agents/internal/llm"
	"github.com/orcalabs/orca-agents/internal/session"
)

// Result is the typed outcome of one backend turn. Err is non-nil when
// the backend failed; the orchestrator converts that into a degraded
// conversational reply rather than surfacing a hard error.
type Result struct {
	Reply string
	Steps []session.Step
	Err   error
}

// Executor runs a single turn against a backend profile.
//
// The deep profile dispatches through one shared, process-wide context:
// a single long-lived runner reused across all conversations, trading
// per-conversation isolation for resource economy on the expensive
// backend. Its step memory is pruned with the global maxHistory after
// every turn, independent of any one conversation's history — the
// pruning is not conversation-scoped.
//
// The fast profile lazily creates a per-conversation context, stored
// via the registry's bound-agent handle and reused until the caller
// asks for a context reset.
type Executor struct {
	logger     *slog.Logger
	registry   *session.Registry
	clients    map[string]llm.Client
	persona    string
	maxHistory int

	managerMu sync.Mutex
	manager   *runner
}

// NewExecutor creates an executor over the given per-profile clients.
// The shared deep context is created eagerly, matching the lifetime of
// the process rather than any conversation.
func NewExecutor(logger *slog.Logger, registry *session.Registry, selector *backend.Selector, clients map[string]llm.Client, persona string, maxHistory int) *Executor {
	deep := selector.Deep()
	return &Executor{
		logger:     logger,
		registry:   registry,
		clients:    clients,
		persona:    persona,
		maxHistory: maxHistory,
		manager:    newRunner(clients[deep.Name], deep.Model, persona),
	}
}

// Execute runs one turn for the conversation against the selected
// profile. The reset decision is: first message of the conversation,
// or an explicit resetContext request.
func (e *Executor) Execute(ctx context.Context, conv session.Snapshot, message string, profile backend.Profile, resetContext bool) Result {
	shouldReset := conv.MessageCount == 0 || resetContext

	e.logger.Info("processing message",
		"conversation", conv.ID,
		"profile", profile.Name,
		"reset", shouldReset,
	)

	if profile.Name == backend.ProfileDeep {
		return e.executeDeep(ctx, message, shouldReset)
	}
	return e.executeFast(ctx, conv, message, profile, shouldReset, resetContext)
}

// executeDeep serializes all deep-routed turns through the shared
// context, one at a time.
func (e *Executor) executeDeep(ctx context.Context, message string, shouldReset bool) Result {
	e.managerMu.Lock()
	defer e.managerMu.Unlock()

	reply, steps, err := e.manager.run(ctx, message, shouldReset, e.maxHistory)
	if err != nil {
		return Result{Err: err}
	}
	return Result{Reply: reply, Steps: steps}
}

func (e *Executor) executeFast(ctx context.Context, conv session.Snapshot, message string, profile backend.Profile, shouldReset, resetContext bool) Result {
	r, _ := e.registry.Agent(conv.ID).(*runner)
	if r == nil || resetContext {
		r = newRunner(e.clients[profile.Name], profile.Model, e.persona)
		if !shouldReset {
			// Context lost (e.g. rebuilt mid-conversation): reload
			// what the registry remembers so the model keeps its
			// apparent continuity.
			r.seed(e.registry.History(conv.ID))
		}
		e.registry.BindAgent(conv.ID, r)
	}

	reply, steps, err := r.run(ctx, message, shouldReset, e.maxHistory)
	if err != nil {
		return Result{Err: err}
	}
	return Result{Reply: reply, Steps: steps}
}

// ManagerMemoryLen reports the shared deep context's current step
// memory size.
func (e *Executor) ManagerMemoryLen() int {
	return e.manager.memoryLen()
}
