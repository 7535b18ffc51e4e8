package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Breach lifecycle event types. External collaborators may route additional
// dotted type names through the publisher; these three are the pipeline's own.
const (
	TypeBreachOpened    = "sla.breach.opened"
	TypeBreachEscalated = "sla.breach.escalated"
	TypeBreachClosed    = "sla.breach.closed"
)

// versions maps event types to their current payload version. A bump is
// reserved for incompatible payload shape changes; additive fields never
// bump the version.
var versions = map[string]int{
	TypeBreachOpened:    1,
	TypeBreachEscalated: 1,
	TypeBreachClosed:    1,
}

// Version returns the current payload version for an event type.
// Unregistered (forwarded) types are version 1.
func Version(eventType string) int {
	if v, ok := versions[eventType]; ok {
		return v
	}
	return 1
}

// Meta carries envelope provenance.
type Meta struct {
	Source string `json:"source"`
	Schema string `json:"schema"`
}

// Event is an immutable envelope around a system occurrence. The ID is the
// consumer-side idempotency key: the system may redeliver on retry without
// ever creating a second logical event. Only DeliveredCount changes after
// creation.
type Event struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Version        int             `json:"version"`
	OccurredAt     time.Time       `json:"occurred_at"`
	Data           json.RawMessage `json:"data"`
	Meta           Meta            `json:"meta"`
	DeliveredCount int             `json:"delivered_count"`
	CreatedAt      time.Time       `json:"created_at"`
}

// envelope is the wire shape delivered as the webhook POST body.
type envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Version    int             `json:"version"`
	Data       json.RawMessage `json:"data"`
	Meta       Meta            `json:"meta"`
}

// WireBody serializes the delivery envelope. The returned bytes are exactly
// what gets signed and POSTed; callers must not re-marshal.
func (e *Event) WireBody() ([]byte, error) {
	body, err := json.Marshal(envelope{
		ID:         e.ID,
		Type:       e.Type,
		OccurredAt: e.OccurredAt,
		Version:    e.Version,
		Data:       e.Data,
		Meta:       e.Meta,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return body, nil
}

// BreachOpenedData is the payload of sla.breach.opened.
type BreachOpenedData struct {
	BreachID        string  `json:"breach_id"`
	SLAInstanceID   string  `json:"sla_instance_id"`
	DefinitionSlug  string  `json:"definition_slug"`
	BreachValue     float64 `json:"breach_value"`
	TargetValue     float64 `json:"target_value"`
	Severity        string  `json:"severity"`
	WorkflowID      string  `json:"workflow_id,omitempty"`
	EntityID        string  `json:"entity_id,omitempty"`
	EscalationLevel int     `json:"escalation_level"`
}

// BreachEscalatedData is the payload of sla.breach.escalated. Emitted only
// when an open breach's severity increases.
type BreachEscalatedData struct {
	BreachID         string  `json:"breach_id"`
	SLAInstanceID    string  `json:"sla_instance_id"`
	DefinitionSlug   string  `json:"definition_slug"`
	BreachValue      float64 `json:"breach_value"`
	TargetValue      float64 `json:"target_value"`
	PreviousSeverity string  `json:"previous_severity"`
	Severity         string  `json:"severity"`
	EscalationLevel  int     `json:"escalation_level"`
}

// BreachClosedData is the payload of sla.breach.closed.
type BreachClosedData struct {
	BreachID              string  `json:"breach_id"`
	SLAInstanceID         string  `json:"sla_instance_id"`
	DefinitionSlug        string  `json:"definition_slug"`
	Severity              string  `json:"severity"`
	ResolutionNotes       string  `json:"resolution_notes,omitempty"`
	ResolutionTimeMinutes float64 `json:"resolution_time_minutes"`
}
