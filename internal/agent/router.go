package agent

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/clawrelay/internal/sessions"
)

// Router resolves agent IDs to runners.
type Router struct {
	mu        sync.RWMutex
	agents    map[string]Runner
	defaultID string
}

// NewRouter returns a router that resolves empty IDs to defaultID.
func NewRouter(defaultID string) *Router {
	return &Router{
		agents:    make(map[string]Runner),
		defaultID: sessions.NormalizeAgentID(defaultID),
	}
}

// Register adds or replaces a runner under its normalized ID.
func (r *Router) Register(runner Runner) {
	id := sessions.NormalizeAgentID(runner.ID())
	r.mu.Lock()
	r.agents[id] = runner
	r.mu.Unlock()
	slog.Debug("registered agent", "agent", id)
}

// Get returns the runner for agentID. An empty ID resolves to the default agent.
func (r *Router) Get(agentID string) (Runner, error) {
	id := r.defaultID
	if agentID != "" {
		id = sessions.NormalizeAgentID(agentID)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if runner, ok := r.agents[id]; ok {
		return runner, nil
	}
	return nil, fmt.Errorf("agent %q not found", id)
}

// DefaultID returns the normalized default agent ID.
func (r *Router) DefaultID() string { return r.defaultID }

// IDs lists registered agents, sorted.
func (r *Router) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
