package eval

import (
	"testing"
	"time"

	"github.com/samijaber1/aegis-relay/internal/sla"
)

func TestStateCacheScopedKeys(t *testing.T) {
	c := NewStateCache()
	global := &EvaluationState{DefinitionID: "def-1", Slug: "order-latency", Value: 20}
	scoped := &EvaluationState{DefinitionID: "def-1", Slug: "order-latency", Scope: sla.Scope{WorkflowID: "wf-eu"}, Value: 48}

	c.Set(global)
	c.Set(scoped)

	got, ok := c.Get("def-1", sla.Scope{})
	if !ok || got.Value != 20 {
		t.Errorf("global scope state = %+v, ok = %v", got, ok)
	}
	got, ok = c.Get("def-1", sla.Scope{WorkflowID: "wf-eu"})
	if !ok || got.Value != 48 {
		t.Errorf("scoped state = %+v, ok = %v", got, ok)
	}
	if _, ok := c.Get("def-1", sla.Scope{WorkflowID: "wf-us"}); ok {
		t.Error("unknown scope must miss")
	}
	if c.Size() != 2 {
		t.Errorf("Size = %d, want 2", c.Size())
	}
}

func TestStateCacheSetReplaces(t *testing.T) {
	c := NewStateCache()
	c.Set(&EvaluationState{DefinitionID: "def-1", Value: 10})
	c.Set(&EvaluationState{DefinitionID: "def-1", Value: 30})

	got, ok := c.Get("def-1", sla.Scope{})
	if !ok || got.Value != 30 {
		t.Errorf("state after replace = %+v", got)
	}
	if c.Size() != 1 {
		t.Errorf("Size = %d, want 1", c.Size())
	}
}

func TestStateCacheDeleteDefinition(t *testing.T) {
	c := NewStateCache()
	c.Set(&EvaluationState{DefinitionID: "def-1"})
	c.Set(&EvaluationState{DefinitionID: "def-1", Scope: sla.Scope{WorkflowID: "wf-eu"}})
	c.Set(&EvaluationState{DefinitionID: "def-2"})

	c.DeleteDefinition("def-1")

	if c.Size() != 1 {
		t.Errorf("Size = %d, want 1 after delete", c.Size())
	}
	if _, ok := c.Get("def-2", sla.Scope{}); !ok {
		t.Error("unrelated definition evicted")
	}
}

func TestEvaluationStateStaleness(t *testing.T) {
	now := time.Now()
	state := &EvaluationState{EvaluatedAt: now.Add(-90 * time.Second), TTL: time.Minute}
	if !state.IsStale(now) {
		t.Error("state past its TTL must be stale")
	}

	state = &EvaluationState{EvaluatedAt: now.Add(-30 * time.Second), TTL: time.Minute}
	if state.IsStale(now) {
		t.Error("state within its TTL must not be stale")
	}
}
