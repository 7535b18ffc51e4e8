package eval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/samijaber1/aegis-relay/internal/breach"
	"github.com/samijaber1/aegis-relay/internal/collector"
	"github.com/samijaber1/aegis-relay/internal/metrics"
	"github.com/samijaber1/aegis-relay/internal/sla"
	"github.com/samijaber1/aegis-relay/internal/storage"
)

// Store is the slice of persistence the engine needs.
type Store interface {
	ListDefinitions(ctx context.Context, onlyEnabled bool) ([]sla.SLADefinition, error)
	GetOrCreateInstance(ctx context.Context, definitionID string, scope sla.Scope) (*sla.SLAInstance, error)
	UpdateInstance(ctx context.Context, inst *sla.SLAInstance) error
}

// Engine runs evaluation passes: for every enabled definition and every
// active scope it collects the current metric value, compares it against
// the threshold, and drives the breach lifecycle. One definition failing
// never aborts the pass.
type Engine struct {
	store       Store
	collectors  *collector.Registry
	breaches    *breach.Manager
	cache       *StateCache
	logger      *zap.SugaredLogger
	timeout     time.Duration
	concurrency int
	interval    time.Duration
}

// NewEngine creates an evaluation engine. collectTimeout bounds each
// collector call; concurrency bounds how many definitions evaluate in
// parallel; interval is the pass cadence, used as the cache TTL.
func NewEngine(store Store, collectors *collector.Registry, breaches *breach.Manager, logger *zap.SugaredLogger, collectTimeout time.Duration, concurrency int, interval time.Duration) *Engine {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Engine{
		store:       store,
		collectors:  collectors,
		breaches:    breaches,
		cache:       NewStateCache(),
		logger:      logger,
		timeout:     collectTimeout,
		concurrency: concurrency,
		interval:    interval,
	}
}

// Cache returns the latest-state cache backing the compliance API.
func (e *Engine) Cache() *StateCache {
	return e.cache
}

// EvaluatePass evaluates every enabled definition once. Per-definition
// failures are logged and counted, not returned; the error covers only
// failures to enumerate definitions.
func (e *Engine) EvaluatePass(ctx context.Context) error {
	started := time.Now()
	defer func() {
		metrics.EvaluationDuration.Observe(time.Since(started).Seconds())
	}()

	defs, err := e.store.ListDefinitions(ctx, true)
	if err != nil {
		return fmt.Errorf("list definitions: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for i := range defs {
		def := defs[i]
		g.Go(func() error {
			if err := e.evaluateDefinition(gctx, &def); err != nil {
				metrics.EvaluationErrors.WithLabelValues(def.Slug, "evaluate").Inc()
				e.logger.Errorw("Evaluation failed", "definition", def.Slug, "error", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	e.logger.Debugw("Evaluation pass complete",
		"definitions", len(defs),
		"duration", time.Since(started),
	)
	return nil
}

// EvaluateDefinition evaluates a single definition by slug, on demand.
func (e *Engine) EvaluateDefinition(ctx context.Context, def *sla.SLADefinition) error {
	return e.evaluateDefinition(ctx, def)
}

func (e *Engine) evaluateDefinition(ctx context.Context, def *sla.SLADefinition) error {
	coll, err := e.collectors.Lookup(def.ObjectiveType)
	if err != nil {
		return err
	}

	scopes := []sla.Scope{{}}
	if lister, ok := coll.(collector.ScopeLister); ok {
		listed, err := lister.ListScopes(ctx, def)
		if err != nil {
			return fmt.Errorf("list scopes: %w", err)
		}
		if len(listed) > 0 {
			scopes = listed
		}
	}

	metrics.TargetValue.WithLabelValues(def.Slug).Set(def.TargetNumeric)

	var firstErr error
	for _, scope := range scopes {
		if err := e.evaluateScope(ctx, def, coll, scope); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *Engine) evaluateScope(ctx context.Context, def *sla.SLADefinition, coll collector.Collector, scope sla.Scope) error {
	inst, err := e.store.GetOrCreateInstance(ctx, def.ID, scope)
	if err != nil {
		return fmt.Errorf("get or create instance: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	sample, err := coll.Collect(cctx, def, scope)
	cancel()

	now := time.Now().UTC()

	switch {
	case err == nil:
		// proceed
	case errors.Is(err, collector.ErrNoData), errors.Is(err, context.DeadlineExceeded):
		// An empty or late window is not a breach. Record that we looked
		// and leave the breach state untouched.
		inst.LastEvaluated = &now
		if uerr := e.store.UpdateInstance(ctx, inst); uerr != nil {
			return uerr
		}
		e.cache.Set(&EvaluationState{
			DefinitionID: def.ID,
			Slug:         def.Slug,
			Scope:        scope,
			Target:       def.TargetNumeric,
			Compliant:    inst.Status != sla.InstanceBreached,
			NoData:       true,
			EvaluatedAt:  now,
			TTL:          e.interval,
		})
		e.logger.Debugw("No data in window", "definition", def.Slug, "scope", scope)
		return nil
	default:
		metrics.EvaluationErrors.WithLabelValues(def.Slug, "collect").Inc()
		return fmt.Errorf("collect: %w", err)
	}

	compliant := def.Operator.Compliant(sample.Value, def.TargetNumeric)

	inst.CurrentValue = sample.Value
	inst.LastEvaluated = &now
	if err := e.store.UpdateInstance(ctx, inst); err != nil {
		return fmt.Errorf("update instance: %w", err)
	}

	state := &EvaluationState{
		DefinitionID: def.ID,
		Slug:         def.Slug,
		Scope:        scope,
		Value:        sample.Value,
		Target:       def.TargetNumeric,
		Compliant:    compliant,
		EvaluatedAt:  now,
		TTL:          e.interval,
	}

	if compliant {
		resolved, err := e.breaches.ResolveForInstance(ctx, inst.ID, "compliance restored")
		if err != nil {
			return fmt.Errorf("resolve breach: %w", err)
		}
		if resolved != nil {
			metrics.BreachesResolved.WithLabelValues(def.Slug, string(resolved.Severity)).Inc()
		} else if inst.Status == sla.InstanceResolved {
			// A full compliant pass after resolution returns the instance
			// to steady state.
			inst.Status = sla.InstanceActive
			if err := e.store.UpdateInstance(ctx, inst); err != nil {
				return fmt.Errorf("update instance: %w", err)
			}
		}
	} else {
		severity := Grade(def, sample.Value)
		state.Severity = severity

		b, err := e.breaches.OpenOrEscalate(ctx, inst, def, sample.Value, severity)
		if err != nil {
			return fmt.Errorf("open or escalate breach: %w", err)
		}
		if b.EscalationLevel == 1 {
			metrics.BreachesOpened.WithLabelValues(def.Slug, string(b.Severity), string(def.ObjectiveType)).Inc()
		}
	}

	e.cache.Set(state)

	labels := []string{def.Slug, scope.WorkflowID, scope.EntityID}
	metrics.CurrentValue.WithLabelValues(labels...).Set(sample.Value)
	if compliant {
		metrics.ComplianceStatus.WithLabelValues(labels...).Set(1)
	} else {
		metrics.ComplianceStatus.WithLabelValues(labels...).Set(0)
	}

	return nil
}

// compile-time check that the sqlite store satisfies the engine's needs
// through the aggregate interface.
var _ Store = (storage.Store)(nil)
