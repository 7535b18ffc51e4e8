package breach

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/samijaber1/aegis-relay/internal/event"
	"github.com/samijaber1/aegis-relay/internal/sla"
	"github.com/samijaber1/aegis-relay/internal/storage"
)

// ErrInvalidTransition is returned when a lifecycle operation is attempted
// from the wrong state. It is surfaced to the caller, never silently coerced.
var ErrInvalidTransition = errors.New("invalid breach lifecycle transition")

// Store is the slice of persistence the manager needs.
type Store interface {
	storage.BreachStore
	GetInstance(ctx context.Context, id string) (*sla.SLAInstance, error)
	UpdateInstance(ctx context.Context, inst *sla.SLAInstance) error
	GetDefinition(ctx context.Context, id string) (*sla.SLADefinition, error)
}

// Publisher persists lifecycle events before the manager proceeds.
type Publisher interface {
	Publish(ctx context.Context, eventType string, data interface{}) (string, error)
}

// Manager owns the breach lifecycle: none -> open -> (acknowledged) ->
// resolved. Transitions for a given instance are serialized by a
// per-instance lock so lifecycle events reach subscribers in causal order;
// cross-process convergence relies on the storage uniqueness constraint,
// not on this lock.
type Manager struct {
	store     Store
	publisher Publisher
	logger    *zap.SugaredLogger

	locks sync.Map // instance id -> *sync.Mutex
}

// NewManager creates a breach manager.
func NewManager(store Store, publisher Publisher, logger *zap.SugaredLogger) *Manager {
	return &Manager{
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

func (m *Manager) instanceLock(instanceID string) *sync.Mutex {
	mu, _ := m.locks.LoadOrStore(instanceID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// OpenOrEscalate records a violation detection for an instance. The first
// detection opens a breach and emits sla.breach.opened; while one is open,
// later detections escalate it in place. Severity only ever escalates or
// holds, and sla.breach.escalated is emitted only when it increases, to
// bound notification volume.
func (m *Manager) OpenOrEscalate(ctx context.Context, inst *sla.SLAInstance, def *sla.SLADefinition, value float64, severity sla.Severity) (*sla.Breach, error) {
	mu := m.instanceLock(inst.ID)
	mu.Lock()
	defer mu.Unlock()

	existing, err := m.store.OpenBreachForInstance(ctx, inst.ID)
	switch {
	case err == nil:
		return m.escalate(ctx, existing, inst, def, value, severity)
	case errors.Is(err, storage.ErrNotFound):
		// fall through to open
	default:
		return nil, err
	}

	b := &sla.Breach{
		SLAInstanceID:   inst.ID,
		BreachValue:     value,
		TargetValue:     def.TargetNumeric,
		Severity:        severity,
		Status:          sla.BreachOpen,
		DetectedAt:      time.Now().UTC(),
		EscalationLevel: 1,
	}

	if err := m.store.CreateBreach(ctx, b); err != nil {
		if errors.Is(err, storage.ErrOpenBreachExists) {
			// Lost a race with a concurrent evaluator; converge on its row.
			winner, getErr := m.store.OpenBreachForInstance(ctx, inst.ID)
			if getErr != nil {
				return nil, fmt.Errorf("breach exists but could not be loaded: %w", getErr)
			}
			return m.escalate(ctx, winner, inst, def, value, severity)
		}
		return nil, err
	}

	inst.Status = sla.InstanceBreached
	inst.BreachCount++
	if err := m.store.UpdateInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("update instance after breach open: %w", err)
	}

	_, err = m.publisher.Publish(ctx, event.TypeBreachOpened, event.BreachOpenedData{
		BreachID:        b.ID,
		SLAInstanceID:   inst.ID,
		DefinitionSlug:  def.Slug,
		BreachValue:     value,
		TargetValue:     def.TargetNumeric,
		Severity:        string(severity),
		WorkflowID:      inst.Scope.WorkflowID,
		EntityID:        inst.Scope.EntityID,
		EscalationLevel: b.EscalationLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("publish breach opened: %w", err)
	}

	m.logger.Warnw("Breach opened",
		"breach_id", b.ID,
		"definition", def.Slug,
		"value", value,
		"target", def.TargetNumeric,
		"severity", severity,
	)

	return b, nil
}

// escalate updates an existing open breach in place. No duplicate opened
// event is emitted; escalated fires only on a severity increase.
func (m *Manager) escalate(ctx context.Context, b *sla.Breach, inst *sla.SLAInstance, def *sla.SLADefinition, value float64, severity sla.Severity) (*sla.Breach, error) {
	previous := b.Severity
	if severity.Rank() > b.Severity.Rank() {
		b.Severity = severity
	}
	b.BreachValue = value
	b.EscalationLevel++

	if err := m.store.UpdateBreach(ctx, b); err != nil {
		return nil, fmt.Errorf("update breach on escalation: %w", err)
	}

	if inst.Status != sla.InstanceBreached {
		inst.Status = sla.InstanceBreached
		if err := m.store.UpdateInstance(ctx, inst); err != nil {
			return nil, fmt.Errorf("update instance on escalation: %w", err)
		}
	}

	if b.Severity.Rank() > previous.Rank() {
		_, err := m.publisher.Publish(ctx, event.TypeBreachEscalated, event.BreachEscalatedData{
			BreachID:         b.ID,
			SLAInstanceID:    inst.ID,
			DefinitionSlug:   def.Slug,
			BreachValue:      value,
			TargetValue:      b.TargetValue,
			PreviousSeverity: string(previous),
			Severity:         string(b.Severity),
			EscalationLevel:  b.EscalationLevel,
		})
		if err != nil {
			return nil, fmt.Errorf("publish breach escalated: %w", err)
		}

		m.logger.Warnw("Breach escalated",
			"breach_id", b.ID,
			"definition", def.Slug,
			"from", previous,
			"to", b.Severity,
		)
	}

	return b, nil
}

// Acknowledge transitions a breach from open to acknowledged. Any other
// starting state is ErrInvalidTransition.
func (m *Manager) Acknowledge(ctx context.Context, breachID, actor string) (*sla.Breach, error) {
	b, err := m.store.GetBreach(ctx, breachID)
	if err != nil {
		return nil, err
	}

	mu := m.instanceLock(b.SLAInstanceID)
	mu.Lock()
	defer mu.Unlock()

	// Re-read under the lock; another operator may have raced us.
	b, err = m.store.GetBreach(ctx, breachID)
	if err != nil {
		return nil, err
	}

	if b.Status != sla.BreachOpen {
		return nil, fmt.Errorf("%w: cannot acknowledge breach in state %q", ErrInvalidTransition, b.Status)
	}

	now := time.Now().UTC()
	b.Status = sla.BreachAcknowledged
	b.AcknowledgedAt = &now
	b.AcknowledgedBy = actor

	if err := m.store.UpdateBreach(ctx, b); err != nil {
		return nil, err
	}

	m.logger.Infow("Breach acknowledged", "breach_id", b.ID, "actor", actor)
	return b, nil
}

// Resolve closes a breach after compliance is restored (or by operator
// action) and emits sla.breach.closed with the episode duration.
func (m *Manager) Resolve(ctx context.Context, breachID, notes string) (*sla.Breach, error) {
	b, err := m.store.GetBreach(ctx, breachID)
	if err != nil {
		return nil, err
	}

	mu := m.instanceLock(b.SLAInstanceID)
	mu.Lock()
	defer mu.Unlock()

	b, err = m.store.GetBreach(ctx, breachID)
	if err != nil {
		return nil, err
	}

	if !b.Status.Open() {
		return nil, fmt.Errorf("%w: cannot resolve breach in state %q", ErrInvalidTransition, b.Status)
	}

	now := time.Now().UTC()
	b.Status = sla.BreachResolved
	b.ResolvedAt = &now
	b.ResolutionNotes = notes

	if err := m.store.UpdateBreach(ctx, b); err != nil {
		return nil, err
	}

	inst, err := m.store.GetInstance(ctx, b.SLAInstanceID)
	if err != nil {
		return nil, err
	}
	// The instance only moves to resolved from breached, never from active.
	if inst.Status == sla.InstanceBreached {
		inst.Status = sla.InstanceResolved
		if err := m.store.UpdateInstance(ctx, inst); err != nil {
			return nil, err
		}
	}

	def, err := m.store.GetDefinition(ctx, inst.DefinitionID)
	if err != nil {
		return nil, err
	}

	_, err = m.publisher.Publish(ctx, event.TypeBreachClosed, event.BreachClosedData{
		BreachID:              b.ID,
		SLAInstanceID:         b.SLAInstanceID,
		DefinitionSlug:        def.Slug,
		Severity:              string(b.Severity),
		ResolutionNotes:       notes,
		ResolutionTimeMinutes: now.Sub(b.DetectedAt).Minutes(),
	})
	if err != nil {
		return nil, fmt.Errorf("publish breach closed: %w", err)
	}

	m.logger.Infow("Breach resolved",
		"breach_id", b.ID,
		"definition", def.Slug,
		"resolution_minutes", now.Sub(b.DetectedAt).Minutes(),
	)

	return b, nil
}

// ResolveForInstance is the evaluation engine's resolution path: close
// whatever breach is open for the instance. No breach open is not an error;
// a concurrent resolver may have won.
func (m *Manager) ResolveForInstance(ctx context.Context, instanceID, notes string) (*sla.Breach, error) {
	b, err := m.store.OpenBreachForInstance(ctx, instanceID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m.Resolve(ctx, b.ID, notes)
}
