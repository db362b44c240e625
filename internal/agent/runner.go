// Package agent executes conversation turns against the model backends
// and composes them with the session registry.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/orcalabs/orca-agents/internal/llm"
	"github.com/orcalabs/orca-agents/internal/session"
)

// runner is one execution context: a bound model plus its own step
// memory. The fast path creates one per conversation; the deep path
// shares a single runner across all conversations.
type runner struct {
	client  llm.Client
	model   string
	persona string

	mu    sync.Mutex
	steps []session.Step
}

func newRunner(client llm.Client, model, persona string) *runner {
	return &runner{client: client, model: model, persona: persona}
}

// seed replaces the context memory with prior history. Used when a
// fast context is recreated mid-conversation, so the model still sees
// what the registry remembers.
func (r *runner) seed(history []session.Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = make([]session.Step, len(history))
	copy(r.steps, history)
}

// run executes one turn. When reset is true (or the memory is empty)
// the context is reseeded with the persona anchor first. On success
// the memory is pruned to maxSteps and the turn's produced steps
// (user + assistant) are returned alongside the reply. On failure the
// user step is rolled back so the memory only ever contains exchanges
// the model actually saw.
func (r *runner) run(ctx context.Context, message string, reset bool, maxSteps int) (string, []session.Step, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if reset || len(r.steps) == 0 {
		r.steps = []session.Step{{
			Role:      "system",
			Content:   r.persona,
			CreatedAt: time.Now(),
		}}
	}

	userStep := session.Step{Role: "user", Content: message, CreatedAt: time.Now()}
	r.steps = append(r.steps, userStep)

	resp, err := r.client.Chat(ctx, r.model, toMessages(r.steps))
	if err != nil {
		r.steps = r.steps[:len(r.steps)-1]
		return "", nil, fmt.Errorf("chat with %s: %w", r.model, err)
	}

	assistantStep := session.Step{
		Role:      "assistant",
		Content:   resp.Message.Content,
		CreatedAt: time.Now(),
	}
	r.steps = append(r.steps, assistantStep)
	r.steps = session.Prune(r.steps, maxSteps)

	return resp.Message.Content, []session.Step{userStep, assistantStep}, nil
}

// memoryLen reports the current context memory size.
func (r *runner) memoryLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.steps)
}

func toMessages(steps []session.Step) []llm.Message {
	msgs := make([]llm.Message, len(steps))
	for i, s := range steps {
		msgs[i] = llm.Message{Role: s.Role, Content: s.Content}
	}
	return msgs
}
