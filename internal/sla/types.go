package sla

import "time"

// ObjectiveType classifies what an SLA definition measures.
type ObjectiveType string

const (
	ObjectiveLatency     ObjectiveType = "latency"
	ObjectiveFreshness   ObjectiveType = "freshness"
	ObjectiveCadence     ObjectiveType = "cadence"
	ObjectiveSuccessRate ObjectiveType = "success_rate"
)

// Valid reports whether the objective type is one of the known kinds.
func (o ObjectiveType) Valid() bool {
	switch o {
	case ObjectiveLatency, ObjectiveFreshness, ObjectiveCadence, ObjectiveSuccessRate:
		return true
	}
	return false
}

// LowerIsBetter reports whether smaller measured values are better for
// this objective. Success-rate objectives are the only higher-is-better kind.
func (o ObjectiveType) LowerIsBetter() bool {
	return o != ObjectiveSuccessRate
}

// ThresholdOperator compares a measured value against a target.
type ThresholdOperator string

const (
	OpLess         ThresholdOperator = "<"
	OpLessEqual    ThresholdOperator = "<="
	OpGreater      ThresholdOperator = ">"
	OpGreaterEqual ThresholdOperator = ">="
	OpEqual        ThresholdOperator = "="
)

// Valid reports whether the operator is one of the supported comparisons.
func (op ThresholdOperator) Valid() bool {
	switch op {
	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual, OpEqual:
		return true
	}
	return false
}

// Compliant reports whether value satisfies the target under this operator.
// Equality under "<=" and ">=" is compliant; equality under "<" and ">" is not.
func (op ThresholdOperator) Compliant(value, target float64) bool {
	switch op {
	case OpLess:
		return value < target
	case OpLessEqual:
		return value <= target
	case OpGreater:
		return value > target
	case OpGreaterEqual:
		return value >= target
	case OpEqual:
		return value == target
	}
	return false
}

// Severity is a coarse triage label derived from how far a measured value
// deviates from its target. It is metadata on a breach, not a state machine.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities so callers can compare them. Higher is worse.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// SLADefinition is a catalog row describing one service-level objective.
// Definitions are never deleted while instances reference them; they are
// soft-disabled instead.
type SLADefinition struct {
	ID            string            `json:"id"`
	Slug          string            `json:"slug"`
	Name          string            `json:"name"`
	Description   string            `json:"description,omitempty"`
	ObjectiveType ObjectiveType     `json:"objective_type"`
	TargetNumeric float64           `json:"target_numeric"`
	Operator      ThresholdOperator `json:"threshold_operator"`
	WindowMinutes int               `json:"window_minutes"`
	Enabled       bool              `json:"enabled"`
	// Query is the backing instant-query template for collectors that
	// execute queries (the Prometheus collector). Fixture-backed
	// collectors ignore it. Placeholders: {{window}}, {{workflow_id}},
	// {{entity_id}}.
	Query     string    `json:"query,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Window returns the evaluation lookback as a duration.
func (d *SLADefinition) Window() time.Duration {
	return time.Duration(d.WindowMinutes) * time.Minute
}

// Scope narrows an SLA definition to a workflow and/or entity. The zero
// value is the global scope.
type Scope struct {
	WorkflowID string `json:"workflow_id,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
}

// Global reports whether the scope is unrestricted.
func (s Scope) Global() bool {
	return s.WorkflowID == "" && s.EntityID == ""
}

// InstanceStatus is the lifecycle state of a monitored SLA instance.
type InstanceStatus string

const (
	InstanceActive   InstanceStatus = "active"
	InstanceBreached InstanceStatus = "breached"
	InstanceResolved InstanceStatus = "resolved"
	InstanceDisabled InstanceStatus = "disabled"
)

// SLAInstance is one monitored unit: a definition applied to a scope.
// Instances are created lazily on first evaluation and mutated solely by
// the evaluation engine. Status is "breached" exactly while an open breach
// exists for the instance.
type SLAInstance struct {
	ID            string         `json:"id"`
	DefinitionID  string         `json:"definition_id"`
	Scope         Scope          `json:"scope"`
	Status        InstanceStatus `json:"status"`
	LastEvaluated *time.Time     `json:"last_evaluated,omitempty"`
	CurrentValue  float64        `json:"current_value"`
	BreachCount   int            `json:"breach_count"`
	CreatedAt     time.Time      `json:"created_at"`
}

// BreachStatus is the lifecycle state of a breach episode.
type BreachStatus string

const (
	BreachOpen         BreachStatus = "open"
	BreachAcknowledged BreachStatus = "acknowledged"
	BreachResolved     BreachStatus = "resolved"
)

// Open reports whether the breach still counts against its instance.
// Acknowledged breaches are open breaches someone has looked at.
func (s BreachStatus) Open() bool {
	return s == BreachOpen || s == BreachAcknowledged
}

// Breach is one detected violation episode for an SLA instance. At most one
// breach with an open status exists per instance at any time; repeated
// detections escalate the existing row instead of duplicating it.
// TargetValue is snapshotted at detection time so later definition edits do
// not rewrite historical context.
type Breach struct {
	ID              string       `json:"id"`
	SLAInstanceID   string       `json:"sla_instance_id"`
	BreachValue     float64      `json:"breach_value"`
	TargetValue     float64      `json:"target_value"`
	Severity        Severity     `json:"severity"`
	Status          BreachStatus `json:"status"`
	DetectedAt      time.Time    `json:"detected_at"`
	AcknowledgedAt  *time.Time   `json:"acknowledged_at,omitempty"`
	AcknowledgedBy  string       `json:"acknowledged_by,omitempty"`
	ResolvedAt      *time.Time   `json:"resolved_at,omitempty"`
	ResolutionNotes string       `json:"resolution_notes,omitempty"`
	EscalationLevel int          `json:"escalation_level"`
}

// DefinitionWithFile pairs a parsed definition with its source file path.
type DefinitionWithFile struct {
	Definition *SLADefinition
	File       string
}

// ValidationError represents a validation error for a specific file.
type ValidationError struct {
	File    string
	Path    string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Path != "" {
		return e.File + ": " + e.Path + ": " + e.Message
	}
	return e.File + ": " + e.Message
}
