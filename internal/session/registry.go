// Package session provides the in-memory conversation registry.
//
// The registry is the single point of concurrency control for
// per-conversation state: creation, turn recording, stats, listing,
// deletion, and the stale sweep all go through it. Nothing outside this
// package holds a reference to a live entry — callers get copies, and
// mutate only by ID, so a deleted conversation can never be used after
// removal.
package session

import (
	"log/slog"
	"sync"
	"time"
)

// Step is one unit of interaction history: a message or a reply
// retained for model context.
type Step struct {
	Role      string    `json:"role"` // system, user, assistant
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// conversation is a live registry entry. It never leaves the package.
type conversation struct {
	id           string
	createdAt    time.Time
	lastActivity time.Time
	messageCount int
	history      []Step

	// agent is the lazily bound per-conversation execution context
	// for the fast backend path. The registry treats it as opaque.
	agent any
}

// Snapshot is a read-only copy of a conversation's bookkeeping state.
type Snapshot struct {
	ID           string    `json:"conversation_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	MessageCount int       `json:"message_count"`
	HistoryLen   int       `json:"history_len"`
	HasAgent     bool      `json:"has_agent_instance"`
}

// Registry manages conversation state. Construct with New and release
// with Close; there is no package-level instance.
type Registry struct {
	logger *slog.Logger

	mu            sync.RWMutex
	conversations map[string]*conversation
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		logger:        logger,
		conversations: make(map[string]*conversation),
	}
}

// Close releases all conversations. The registry must not be used
// after Close returns.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations = make(map[string]*conversation)
}

// GetOrCreate returns the conversation for id, creating a fresh entry
// with zero message count and empty history if none exists. In both
// cases lastActivity is bumped to now. Under concurrent calls with the
// same unseen id, exactly one creation occurs; every caller observes
// the same entry.
func (r *Registry) GetOrCreate(id string) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[id]
	if !ok {
		now := time.Now()
		conv = &conversation{
			id:           id,
			createdAt:    now,
			lastActivity: now,
		}
		r.conversations[id] = conv
		r.logger.Info("created new conversation", "conversation", id)
	} else {
		conv.lastActivity = time.Now()
	}

	return conv.snapshot()
}

// RecordTurn appends steps to the conversation's history, prunes it to
// maxHistory, increments the message count, and bumps lastActivity —
// all atomically, so the count and the history can never drift apart.
// Returns the resulting history length, and false if the conversation
// does not exist.
func (r *Registry) RecordTurn(id string, steps []Step, maxHistory int) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[id]
	if !ok {
		return 0, false
	}

	conv.history = Prune(append(conv.history, steps...), maxHistory)
	conv.messageCount++
	conv.lastActivity = time.Now()

	return len(conv.history), true
}

// History returns a copy of the conversation's step history, oldest
// first. Returns nil for an unknown id. Reading history does not bump
// lastActivity.
func (r *Registry) History(id string) []Step {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conv, ok := r.conversations[id]
	if !ok {
		return nil
	}

	steps := make([]Step, len(conv.history))
	copy(steps, conv.history)
	return steps
}

// Stats returns a read-only snapshot of the conversation, or false if
// it does not exist. Unlike GetOrCreate, Stats never creates an entry
// and never bumps lastActivity: asking about a conversation is not
// activity in it.
func (r *Registry) Stats(id string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conv, ok := r.conversations[id]
	if !ok {
		return Snapshot{}, false
	}
	return conv.snapshot(), true
}

// Agent returns the bound execution context for the conversation, or
// nil if none has been bound (or the conversation does not exist).
func (r *Registry) Agent(id string) any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conv, ok := r.conversations[id]
	if !ok {
		return nil
	}
	return conv.agent
}

// BindAgent attaches an execution context to the conversation,
// replacing any previous binding. Binding to an unknown id is a no-op.
func (r *Registry) BindAgent(id string, agent any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conv, ok := r.conversations[id]; ok {
		conv.agent = agent
	}
}

// Delete removes the conversation. Returns whether it existed.
// Deleting an absent id is a harmless no-op.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conversations[id]; !ok {
		return false
	}
	delete(r.conversations, id)
	r.logger.Info("deleted conversation", "conversation", id)
	return true
}

// ListIDs returns the identifiers of all registered conversations, in
// no particular order.
func (r *Registry) ListIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.conversations))
	for id := range r.conversations {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of registered conversations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conversations)
}

// SweepStale removes every conversation whose lastActivity is older
// than maxAge and returns the number removed. The whole sweep runs
// under the registry's write lock, so a conversation that receives
// activity cannot be removed concurrently: either its turn commits
// before the sweep sees it, or the sweep completes first and the turn
// recreates nothing (RecordTurn on a removed id reports not-found).
func (r *Registry) SweepStale(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, conv := range r.conversations {
		if conv.lastActivity.Before(cutoff) {
			delete(r.conversations, id)
			removed++
		}
	}

	if removed > 0 {
		r.logger.Info("swept stale conversations", "removed", removed, "max_age", maxAge)
	}
	return removed
}

func (c *conversation) snapshot() Snapshot {
	return Snapshot{
		ID:           c.id,
		CreatedAt:    c.createdAt,
		LastActivity: c.lastActivity,
		MessageCount: c.messageCount,
		HistoryLen:   len(c.history),
		HasAgent:     c.agent != nil,
	}
}
