package synthetic

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/samijaber1/aegis-relay/internal/collector"
	"github.com/samijaber1/aegis-relay/internal/sla"
)

// MetricFixture represents a metric fixture file format. Fixtures are keyed
// by definition slug; a scoped entry overrides the slug-level value for a
// specific workflow/entity pair.
type MetricFixture struct {
	Value       float64        `json:"value"`
	SampleCount int            `json:"sampleCount"`
	NoData      bool           `json:"noData,omitempty"`
	Scopes      []ScopedSample `json:"scopes,omitempty"`
}

// ScopedSample is a fixture value for one scope.
type ScopedSample struct {
	WorkflowID  string  `json:"workflowId,omitempty"`
	EntityID    string  `json:"entityId,omitempty"`
	Value       float64 `json:"value"`
	SampleCount int     `json:"sampleCount"`
	NoData      bool    `json:"noData,omitempty"`
}

// Collector is a synthetic metric collector that reads from JSON fixtures.
// It exists for development and tests; production deployments register real
// collectors per objective type.
type Collector struct {
	mu       sync.RWMutex
	fixtures map[string]*MetricFixture
}

// New creates a new synthetic collector.
func New() *Collector {
	return &Collector{
		fixtures: make(map[string]*MetricFixture),
	}
}

// LoadFixture loads a metric fixture for a definition slug from a JSON file.
func (c *Collector) LoadFixture(slug string, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read fixture: %w", err)
	}

	var fixture MetricFixture
	if err := json.Unmarshal(data, &fixture); err != nil {
		return fmt.Errorf("failed to parse fixture: %w", err)
	}

	c.SetFixture(slug, &fixture)
	return nil
}

// SetFixture directly sets a fixture (useful for testing).
func (c *Collector) SetFixture(slug string, fixture *MetricFixture) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.fixtures[slug] = fixture
}

// SetValue sets a plain slug-level fixture value (useful for testing).
func (c *Collector) SetValue(slug string, value float64, sampleCount int) {
	c.SetFixture(slug, &MetricFixture{Value: value, SampleCount: sampleCount})
}

// Collect implements the collector.Collector interface.
func (c *Collector) Collect(_ context.Context, def *sla.SLADefinition, scope sla.Scope) (collector.Sample, error) {
	c.mu.RLock()
	fixture, exists := c.fixtures[def.Slug]
	c.mu.RUnlock()

	if !exists {
		return collector.Sample{}, collector.ErrNoData
	}

	if !scope.Global() {
		for _, scoped := range fixture.Scopes {
			if scoped.WorkflowID == scope.WorkflowID && scoped.EntityID == scope.EntityID {
				if scoped.NoData {
					return collector.Sample{}, collector.ErrNoData
				}
				return collector.Sample{Value: scoped.Value, SampleCount: scoped.SampleCount}, nil
			}
		}
	}

	if fixture.NoData {
		return collector.Sample{}, collector.ErrNoData
	}

	return collector.Sample{Value: fixture.Value, SampleCount: fixture.SampleCount}, nil
}

// ListScopes implements collector.ScopeLister from the fixture's scoped
// entries, so scoped instances materialize in tests the same way they do
// against a real data source.
func (c *Collector) ListScopes(_ context.Context, def *sla.SLADefinition) ([]sla.Scope, error) {
	c.mu.RLock()
	fixture, exists := c.fixtures[def.Slug]
	c.mu.RUnlock()

	scopes := []sla.Scope{{}}
	if !exists {
		return scopes, nil
	}

	for _, scoped := range fixture.Scopes {
		scopes = append(scopes, sla.Scope{WorkflowID: scoped.WorkflowID, EntityID: scoped.EntityID})
	}
	return scopes, nil
}
