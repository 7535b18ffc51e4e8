package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/samijaber1/aegis-relay/internal/sla"
)

// ErrNoData is returned by a collector that found nothing inside the
// evaluation window. The engine skips the instance instead of treating
// silence as a breach.
var ErrNoData = errors.New("no data available in window")

// Sample is one collected measurement over a definition's window.
type Sample struct {
	Value       float64
	SampleCount int
}

// Collector produces the current value of a metric for an SLA definition
// and scope, looking back over the definition's window. Implementations
// must be side-effect-free and return ErrNoData rather than a zero value
// when the window is empty.
type Collector interface {
	Collect(ctx context.Context, def *sla.SLADefinition, scope sla.Scope) (Sample, error)
}

// ScopeLister is optionally implemented by collectors that know which
// scopes are active for a definition. Definitions whose collector does not
// implement it evaluate against the global scope only.
type ScopeLister interface {
	ListScopes(ctx context.Context, def *sla.SLADefinition) ([]sla.Scope, error)
}

// Registry maps objective types to their collector implementations.
type Registry struct {
	mu         sync.RWMutex
	collectors map[sla.ObjectiveType]Collector
}

// NewRegistry creates an empty collector registry.
func NewRegistry() *Registry {
	return &Registry{
		collectors: make(map[sla.ObjectiveType]Collector),
	}
}

// Register binds a collector to an objective type, replacing any previous
// binding.
func (r *Registry) Register(objective sla.ObjectiveType, c Collector) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.collectors[objective] = c
}

// Lookup returns the collector for an objective type.
func (r *Registry) Lookup(objective sla.ObjectiveType) (Collector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.collectors[objective]
	if !ok {
		return nil, fmt.Errorf("no collector registered for objective type %q", objective)
	}
	return c, nil
}

// Objectives returns the objective types with a registered collector.
func (r *Registry) Objectives() []sla.ObjectiveType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	objectives := make([]sla.ObjectiveType, 0, len(r.collectors))
	for o := range r.collectors {
		objectives = append(objectives, o)
	}
	return objectives
}
