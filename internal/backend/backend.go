// Package backend defines the two model backends and the routing
// decision between them.
package backend

import "log/slog"

// Profile names for the two configured backends.
const (
	ProfileFast = "fast"
	ProfileDeep = "deep"
)

// Profile is a named routing target: an Ollama endpoint plus its
// default model.
type Profile struct {
	Name  string `json:"name"`  // "fast" or "deep"
	URL   string `json:"url"`   // Ollama base URL
	Model string `json:"model"` // default model identifier
}

// Selector maps a routing hint to one of the two configured profiles.
// It holds no mutable state; Select is a pure lookup.
type Selector struct {
	logger *slog.Logger
	fast   Profile
	deep   Profile
}

// NewSelector creates a selector over the two configured profiles.
func NewSelector(logger *slog.Logger, fast, deep Profile) *Selector {
	fast.Name = ProfileFast
	deep.Name = ProfileDeep
	return &Selector{logger: logger, fast: fast, deep: deep}
}

// Select returns the deep profile when useDeep is set, the fast
// profile otherwise.
func (s *Selector) Select(useDeep bool) Profile {
	p := s.fast
	if useDeep {
		p = s.deep
	}
	s.logger.Debug("backend selected", "profile", p.Name, "model", p.Model)
	return p
}

// Fast returns the fast profile.
func (s *Selector) Fast() Profile { return s.fast }

// Deep returns the deep profile.
func (s *Selector) Deep() Profile { return s.deep }
