package storage

import (
	"context"
	"errors"
	"time"

	"github.com/samijaber1/aegis-relay/internal/event"
	"github.com/samijaber1/aegis-relay/internal/sla"
	"github.com/samijaber1/aegis-relay/internal/webhook"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrOpenBreachExists is returned when inserting a breach would violate the
// one-open-breach-per-instance constraint. Concurrent evaluation passes
// racing to open the same breach converge through this error.
var ErrOpenBreachExists = errors.New("an open breach already exists for this instance")

// ErrDefinitionInUse is returned when deleting a definition that instances
// still reference; such definitions are soft-disabled instead.
var ErrDefinitionInUse = errors.New("definition is referenced by instances")

// InstanceFilter narrows instance listings.
type InstanceFilter struct {
	DefinitionID string
	Status       sla.InstanceStatus
	Limit        int
	Offset       int
}

// BreachFilter narrows breach listings.
type BreachFilter struct {
	SLAInstanceID string
	Status        sla.BreachStatus
	Severity      sla.Severity
	Limit         int
	Offset        int
}

// EventFilter narrows event listings.
type EventFilter struct {
	Type   string
	Since  *time.Time
	Limit  int
	Offset int
}

// CatalogStore persists SLA definitions and instances.
type CatalogStore interface {
	CreateDefinition(ctx context.Context, def *sla.SLADefinition) error
	UpsertDefinitionBySlug(ctx context.Context, def *sla.SLADefinition) error
	GetDefinition(ctx context.Context, id string) (*sla.SLADefinition, error)
	GetDefinitionBySlug(ctx context.Context, slug string) (*sla.SLADefinition, error)
	ListDefinitions(ctx context.Context, onlyEnabled bool) ([]sla.SLADefinition, error)
	UpdateDefinition(ctx context.Context, def *sla.SLADefinition) error
	DeleteDefinition(ctx context.Context, id string) error

	GetOrCreateInstance(ctx context.Context, definitionID string, scope sla.Scope) (*sla.SLAInstance, error)
	UpdateInstance(ctx context.Context, inst *sla.SLAInstance) error
	GetInstance(ctx context.Context, id string) (*sla.SLAInstance, error)
	ListInstances(ctx context.Context, filter InstanceFilter) ([]sla.SLAInstance, error)
}

// BreachStore persists breach episodes. CreateBreach must surface
// ErrOpenBreachExists from the storage-level uniqueness constraint so
// horizontally scaled evaluators stay correct without coordination.
type BreachStore interface {
	CreateBreach(ctx context.Context, b *sla.Breach) error
	GetBreach(ctx context.Context, id string) (*sla.Breach, error)
	OpenBreachForInstance(ctx context.Context, instanceID string) (*sla.Breach, error)
	UpdateBreach(ctx context.Context, b *sla.Breach) error
	ListBreaches(ctx context.Context, filter BreachFilter) ([]sla.Breach, error)
}

// EventStore persists event envelopes. Events are append-only; only the
// delivered counter and the fan-out marker change after insert.
type EventStore interface {
	InsertEvent(ctx context.Context, ev *event.Event) error
	GetEvent(ctx context.Context, id string) (*event.Event, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]event.Event, error)
	ListUnfannedEvents(ctx context.Context, limit int) ([]event.Event, error)
	MarkEventFanned(ctx context.Context, eventID string) error
	IncrementEventDelivered(ctx context.Context, eventID string) error
}

// EndpointStore persists webhook subscriptions and their failure accounting.
type EndpointStore interface {
	CreateEndpoint(ctx context.Context, ep *webhook.Endpoint) error
	GetEndpoint(ctx context.Context, id string) (*webhook.Endpoint, error)
	ListEndpoints(ctx context.Context, onlyActive bool) ([]webhook.Endpoint, error)
	UpdateEndpoint(ctx context.Context, ep *webhook.Endpoint) error
	DeleteEndpoint(ctx context.Context, id string) error
	RecordEndpointSuccess(ctx context.Context, id string, at time.Time) error
	// RecordEndpointFailure increments failure_count and deactivates the
	// endpoint once the count exceeds threshold. Reports whether the
	// endpoint was deactivated by this call.
	RecordEndpointFailure(ctx context.Context, id string, at time.Time, threshold int) (bool, error)
}

// DeliveryStore persists the delivery attempt audit trail.
type DeliveryStore interface {
	InsertAttempt(ctx context.Context, a *webhook.DeliveryAttempt) error
	UpdateAttempt(ctx context.Context, a *webhook.DeliveryAttempt) error
	DueAttempts(ctx context.Context, now time.Time, limit int) ([]webhook.DeliveryAttempt, error)
	ListAttempts(ctx context.Context, eventID string) ([]webhook.DeliveryAttempt, error)
}

// Store is the full persistence surface of the pipeline.
type Store interface {
	CatalogStore
	BreachStore
	EventStore
	EndpointStore
	DeliveryStore

	Close() error
}
