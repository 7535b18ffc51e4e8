package api

import (
	"time"

	"github.com/samijaber1/aegis-relay/internal/eval"
	"github.com/samijaber1/aegis-relay/internal/sla"
)

// ErrorResponse is the error payload for all non-2xx responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is returned by GET /readyz.
type ReadyResponse struct {
	Ready       bool     `json:"ready"`
	Definitions int      `json:"definitions"`
	Reasons     []string `json:"reasons,omitempty"`
}

// DefinitionRequest is the create/update payload for an SLA definition.
type DefinitionRequest struct {
	Slug          string  `json:"slug"`
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	ObjectiveType string  `json:"objective_type"`
	TargetNumeric float64 `json:"target_numeric"`
	Operator      string  `json:"threshold_operator"`
	WindowMinutes int     `json:"window_minutes"`
	Query         string  `json:"query,omitempty"`
	Enabled       *bool   `json:"enabled,omitempty"`
}

// DefinitionListResponse is returned by GET /v1/definitions.
type DefinitionListResponse struct {
	Definitions []sla.SLADefinition `json:"definitions"`
	Total       int                 `json:"total"`
}

// DefinitionDeleteResponse reports the outcome of a delete. Definitions
// still referenced by instances are disabled instead of removed.
type DefinitionDeleteResponse struct {
	Deleted  bool `json:"deleted"`
	Disabled bool `json:"disabled"`
}

// InstanceListResponse is returned by GET /v1/instances.
type InstanceListResponse struct {
	Instances []sla.SLAInstance `json:"instances"`
	Total     int               `json:"total"`
}

// BreachListResponse is returned by GET /v1/breaches.
type BreachListResponse struct {
	Breaches []sla.Breach `json:"breaches"`
	Total    int          `json:"total"`
}

// AcknowledgeRequest is the payload for POST /v1/breaches/{id}/acknowledge.
type AcknowledgeRequest struct {
	Actor string `json:"actor"`
}

// ResolveRequest is the payload for POST /v1/breaches/{id}/resolve.
type ResolveRequest struct {
	Notes string `json:"notes,omitempty"`
}

// EndpointRequest is the create/update payload for a webhook endpoint.
type EndpointRequest struct {
	URL      string   `json:"url"`
	TenantID string   `json:"tenant_id,omitempty"`
	Events   []string `json:"events,omitempty"`
	Active   *bool    `json:"active,omitempty"`
}

// EndpointCreatedResponse is returned once, at creation. The raw secret
// never appears in any other response.
type EndpointCreatedResponse struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Secret     string    `json:"secret"`
	SecretHash string    `json:"secret_hash"`
	Events     []string  `json:"events"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// ComplianceResponse is the latest-evaluation snapshot served from cache.
type ComplianceResponse struct {
	States      []*eval.EvaluationState `json:"states"`
	GeneratedAt time.Time               `json:"generated_at"`
}

// EvaluateResponse acknowledges a forced evaluation pass.
type EvaluateResponse struct {
	Status string `json:"status"`
}
