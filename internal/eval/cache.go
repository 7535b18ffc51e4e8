package eval

import (
	"sync"
	"time"

	"github.com/samijaber1/aegis-relay/internal/sla"
)

// EvaluationState is the latest evaluation outcome for one SLA instance.
// The compliance API serves these snapshots without touching storage.
type EvaluationState struct {
	DefinitionID string        `json:"definition_id"`
	Slug         string        `json:"slug"`
	Scope        sla.Scope     `json:"scope"`
	Value        float64       `json:"value"`
	Target       float64       `json:"target"`
	Compliant    bool          `json:"compliant"`
	Severity     sla.Severity  `json:"severity,omitempty"`
	NoData       bool          `json:"no_data"`
	EvaluatedAt  time.Time     `json:"evaluated_at"`
	TTL          time.Duration `json:"-"`
}

// IsStale returns true if the state is older than its TTL.
func (s *EvaluationState) IsStale(now time.Time) bool {
	return now.Sub(s.EvaluatedAt) > s.TTL
}

// StateCache is a thread-safe cache of the latest evaluation state per
// SLA instance, keyed by definition and scope.
type StateCache struct {
	mu     sync.RWMutex
	states map[string]*EvaluationState
}

// NewStateCache creates a new state cache.
func NewStateCache() *StateCache {
	return &StateCache{
		states: make(map[string]*EvaluationState),
	}
}

func stateKey(definitionID string, scope sla.Scope) string {
	return definitionID + "|" + scope.WorkflowID + "|" + scope.EntityID
}

// Get retrieves the cached state for one definition and scope.
func (c *StateCache) Get(definitionID string, scope sla.Scope) (*EvaluationState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	state, exists := c.states[stateKey(definitionID, scope)]
	return state, exists
}

// Set stores the evaluation state for one definition and scope.
func (c *StateCache) Set(state *EvaluationState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.states[stateKey(state.DefinitionID, state.Scope)] = state
}

// GetAll returns a copy of all cached states.
func (c *StateCache) GetAll() []*EvaluationState {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := make([]*EvaluationState, 0, len(c.states))
	for _, s := range c.states {
		snapshot = append(snapshot, s)
	}
	return snapshot
}

// DeleteDefinition drops all cached states for a definition, across scopes.
func (c *StateCache) DeleteDefinition(definitionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, s := range c.states {
		if s.DefinitionID == definitionID {
			delete(c.states, k)
		}
	}
}

// Size returns the number of cached states.
func (c *StateCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.states)
}
