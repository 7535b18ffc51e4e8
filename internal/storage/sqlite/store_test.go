package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/samijaber1/aegis-relay/internal/event"
	"github.com/samijaber1/aegis-relay/internal/sla"
	"github.com/samijaber1/aegis-relay/internal/storage"
	"github.com/samijaber1/aegis-relay/internal/webhook"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedDefinition(t *testing.T, store *Store, slug string) *sla.SLADefinition {
	t.Helper()
	def := &sla.SLADefinition{
		Slug:          slug,
		Name:          "Test " + slug,
		ObjectiveType: sla.ObjectiveLatency,
		TargetNumeric: 30,
		Operator:      sla.OpLessEqual,
		WindowMinutes: 60,
		Enabled:       true,
		Query:         "avg_over_time(" + slug + "_minutes[{{window}}])",
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	if err := store.CreateDefinition(context.Background(), def); err != nil {
		t.Fatalf("failed to create definition: %v", err)
	}
	return def
}

func seedInstance(t *testing.T, store *Store, definitionID string) *sla.SLAInstance {
	t.Helper()
	inst, err := store.GetOrCreateInstance(context.Background(), definitionID, sla.Scope{})
	if err != nil {
		t.Fatalf("failed to create instance: %v", err)
	}
	return inst
}

func TestDefinitionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	def := seedDefinition(t, store, "checkout-latency")

	got, err := store.GetDefinition(ctx, def.ID)
	if err != nil {
		t.Fatalf("GetDefinition: %v", err)
	}
	if got.Slug != def.Slug || got.TargetNumeric != def.TargetNumeric || got.Operator != def.Operator {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, def)
	}
	if got.Query != def.Query {
		t.Errorf("query = %q, want %q", got.Query, def.Query)
	}

	bySlug, err := store.GetDefinitionBySlug(ctx, "checkout-latency")
	if err != nil {
		t.Fatalf("GetDefinitionBySlug: %v", err)
	}
	if bySlug.ID != def.ID {
		t.Errorf("slug lookup returned %s, want %s", bySlug.ID, def.ID)
	}

	if _, err := store.GetDefinition(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing id, got %v", err)
	}
}

func TestUpsertDefinitionBySlugKeepsID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	def := seedDefinition(t, store, "feed-freshness")

	updated := *def
	updated.ID = ""
	updated.TargetNumeric = 10
	if err := store.UpsertDefinitionBySlug(ctx, &updated); err != nil {
		t.Fatalf("UpsertDefinitionBySlug: %v", err)
	}

	got, err := store.GetDefinitionBySlug(ctx, "feed-freshness")
	if err != nil {
		t.Fatalf("GetDefinitionBySlug: %v", err)
	}
	if got.ID != def.ID {
		t.Errorf("upsert changed ID: got %s, want %s", got.ID, def.ID)
	}
	if got.TargetNumeric != 10 {
		t.Errorf("upsert did not apply target: got %v", got.TargetNumeric)
	}
}

func TestDeleteDefinitionInUse(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	def := seedDefinition(t, store, "cadence-check")
	seedInstance(t, store, def.ID)

	if err := store.DeleteDefinition(ctx, def.ID); !errors.Is(err, storage.ErrDefinitionInUse) {
		t.Errorf("expected ErrDefinitionInUse, got %v", err)
	}

	fresh := seedDefinition(t, store, "unused")
	if err := store.DeleteDefinition(ctx, fresh.ID); err != nil {
		t.Errorf("expected delete of unused definition to succeed, got %v", err)
	}
}

func TestGetOrCreateInstanceIdempotent(t *testing.T) {
	store := newTestStore(t)
	def := seedDefinition(t, store, "latency")

	scope := sla.Scope{WorkflowID: "wf-1"}
	a, err := store.GetOrCreateInstance(context.Background(), def.ID, scope)
	if err != nil {
		t.Fatalf("first GetOrCreateInstance: %v", err)
	}
	b, err := store.GetOrCreateInstance(context.Background(), def.ID, scope)
	if err != nil {
		t.Fatalf("second GetOrCreateInstance: %v", err)
	}
	if a.ID != b.ID {
		t.Errorf("same scope produced two instances: %s vs %s", a.ID, b.ID)
	}

	other, err := store.GetOrCreateInstance(context.Background(), def.ID, sla.Scope{WorkflowID: "wf-2"})
	if err != nil {
		t.Fatalf("scoped GetOrCreateInstance: %v", err)
	}
	if other.ID == a.ID {
		t.Error("different scopes should produce different instances")
	}
}

func TestCreateBreachUniqueOpenConstraint(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	def := seedDefinition(t, store, "latency")
	inst := seedInstance(t, store, def.ID)

	first := &sla.Breach{
		SLAInstanceID: inst.ID,
		BreachValue:   45,
		TargetValue:   30,
		Severity:      sla.SeverityMedium,
		Status:        sla.BreachOpen,
		DetectedAt:    time.Now().UTC(),
	}
	if err := store.CreateBreach(ctx, first); err != nil {
		t.Fatalf("first CreateBreach: %v", err)
	}

	second := &sla.Breach{
		SLAInstanceID: inst.ID,
		BreachValue:   50,
		TargetValue:   30,
		Severity:      sla.SeverityMedium,
		Status:        sla.BreachOpen,
		DetectedAt:    time.Now().UTC(),
	}
	if err := store.CreateBreach(ctx, second); !errors.Is(err, storage.ErrOpenBreachExists) {
		t.Fatalf("expected ErrOpenBreachExists, got %v", err)
	}

	// Acknowledged still counts as open for the constraint.
	first.Status = sla.BreachAcknowledged
	if err := store.UpdateBreach(ctx, first); err != nil {
		t.Fatalf("UpdateBreach: %v", err)
	}
	if err := store.CreateBreach(ctx, second); !errors.Is(err, storage.ErrOpenBreachExists) {
		t.Fatalf("expected ErrOpenBreachExists for acknowledged, got %v", err)
	}

	// Resolving frees the slot.
	now := time.Now().UTC()
	first.Status = sla.BreachResolved
	first.ResolvedAt = &now
	if err := store.UpdateBreach(ctx, first); err != nil {
		t.Fatalf("UpdateBreach resolve: %v", err)
	}
	if err := store.CreateBreach(ctx, second); err != nil {
		t.Fatalf("CreateBreach after resolve: %v", err)
	}
}

func TestConcurrentBreachCreationConverges(t *testing.T) {
	store := newTestStore(t)
	def := seedDefinition(t, store, "latency")
	inst := seedInstance(t, store, def.ID)

	const workers = 8
	var wg sync.WaitGroup
	created := make(chan string, workers)
	conflicts := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b := &sla.Breach{
				SLAInstanceID: inst.ID,
				BreachValue:   45,
				TargetValue:   30,
				Severity:      sla.SeverityMedium,
				Status:        sla.BreachOpen,
				DetectedAt:    time.Now().UTC(),
			}
			err := store.CreateBreach(context.Background(), b)
			switch {
			case err == nil:
				created <- b.ID
			case errors.Is(err, storage.ErrOpenBreachExists):
				conflicts <- err
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	close(created)
	close(conflicts)

	if got := len(created); got != 1 {
		t.Errorf("expected exactly one breach created, got %d", got)
	}
	if got := len(conflicts); got != workers-1 {
		t.Errorf("expected %d conflicts, got %d", workers-1, got)
	}

	open, err := store.OpenBreachForInstance(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("OpenBreachForInstance: %v", err)
	}
	breaches, err := store.ListBreaches(context.Background(), storage.BreachFilter{SLAInstanceID: inst.ID})
	if err != nil {
		t.Fatalf("ListBreaches: %v", err)
	}
	if len(breaches) != 1 || breaches[0].ID != open.ID {
		t.Errorf("expected a single breach row, got %d", len(breaches))
	}
}

func TestEventFanOutBookkeeping(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ev := &event.Event{
		ID:         "ev-1",
		Type:       event.TypeBreachOpened,
		Version:    1,
		OccurredAt: time.Now().UTC(),
		Data:       []byte(`{"breach_id":"b-1"}`),
		Meta:       event.Meta{Source: "test", Schema: "sla.breach.opened/1"},
		CreatedAt:  time.Now().UTC(),
	}
	if err := store.InsertEvent(ctx, ev); err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}

	unfanned, err := store.ListUnfannedEvents(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnfannedEvents: %v", err)
	}
	if len(unfanned) != 1 || unfanned[0].ID != "ev-1" {
		t.Fatalf("expected one unfanned event, got %d", len(unfanned))
	}

	if err := store.MarkEventFanned(ctx, "ev-1"); err != nil {
		t.Fatalf("MarkEventFanned: %v", err)
	}
	unfanned, err = store.ListUnfannedEvents(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnfannedEvents after fan-out: %v", err)
	}
	if len(unfanned) != 0 {
		t.Errorf("expected no unfanned events, got %d", len(unfanned))
	}

	if err := store.IncrementEventDelivered(ctx, "ev-1"); err != nil {
		t.Fatalf("IncrementEventDelivered: %v", err)
	}
	got, err := store.GetEvent(ctx, "ev-1")
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if got.DeliveredCount != 1 {
		t.Errorf("expected delivered_count 1, got %d", got.DeliveredCount)
	}
}

func TestEndpointFailureAccounting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ep := &webhook.Endpoint{
		ID:         "ep-1",
		URL:        "https://example.com/hook",
		Secret:     "whsec_test",
		SecretHash: "abc",
		Active:     true,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
	if err := store.CreateEndpoint(ctx, ep); err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}

	const threshold = 3
	now := time.Now().UTC()

	// Failures below the threshold leave the endpoint active.
	for i := 0; i < threshold; i++ {
		deactivated, err := store.RecordEndpointFailure(ctx, ep.ID, now, threshold)
		if err != nil {
			t.Fatalf("RecordEndpointFailure %d: %v", i, err)
		}
		if deactivated {
			t.Fatalf("endpoint deactivated after %d failures, threshold is %d", i+1, threshold)
		}
	}

	// The failure that exceeds the threshold deactivates it.
	deactivated, err := store.RecordEndpointFailure(ctx, ep.ID, now, threshold)
	if err != nil {
		t.Fatalf("RecordEndpointFailure over threshold: %v", err)
	}
	if !deactivated {
		t.Fatal("expected deactivation once failure count exceeds threshold")
	}

	got, err := store.GetEndpoint(ctx, ep.ID)
	if err != nil {
		t.Fatalf("GetEndpoint: %v", err)
	}
	if got.Active {
		t.Error("expected endpoint to be inactive")
	}
	if got.FailureCount != threshold+1 {
		t.Errorf("expected failure_count %d, got %d", threshold+1, got.FailureCount)
	}

	// Success resets the count.
	if err := store.RecordEndpointSuccess(ctx, ep.ID, now); err != nil {
		t.Fatalf("RecordEndpointSuccess: %v", err)
	}
	got, err = store.GetEndpoint(ctx, ep.ID)
	if err != nil {
		t.Fatalf("GetEndpoint after success: %v", err)
	}
	if got.FailureCount != 0 {
		t.Errorf("expected failure_count reset to 0, got %d", got.FailureCount)
	}
}

func TestDueAttemptsOrderAndCutoff(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ev := &event.Event{
		ID:         "ev-1",
		Type:       event.TypeBreachOpened,
		Version:    1,
		OccurredAt: time.Now().UTC(),
		Data:       []byte(`{}`),
		CreatedAt:  time.Now().UTC(),
	}
	if err := store.InsertEvent(ctx, ev); err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}
	ep := &webhook.Endpoint{ID: "ep-1", URL: "https://example.com", Secret: "s", Active: true, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	if err := store.CreateEndpoint(ctx, ep); err != nil {
		t.Fatalf("CreateEndpoint: %v", err)
	}

	now := time.Now().UTC()
	past := &webhook.DeliveryAttempt{EventID: "ev-1", EndpointID: "ep-1", AttemptNumber: 1, Status: webhook.AttemptPending, NextAttemptAt: now.Add(-time.Minute)}
	future := &webhook.DeliveryAttempt{EventID: "ev-1", EndpointID: "ep-1", AttemptNumber: 2, Status: webhook.AttemptPending, NextAttemptAt: now.Add(10 * time.Minute)}
	for _, a := range []*webhook.DeliveryAttempt{past, future} {
		if err := store.InsertAttempt(ctx, a); err != nil {
			t.Fatalf("InsertAttempt: %v", err)
		}
	}
	if past.ID == 0 || future.ID == 0 {
		t.Fatal("expected InsertAttempt to backfill row IDs")
	}

	due, err := store.DueAttempts(ctx, now, 10)
	if err != nil {
		t.Fatalf("DueAttempts: %v", err)
	}
	if len(due) != 1 || due[0].ID != past.ID {
		t.Fatalf("expected only the past attempt to be due, got %d rows", len(due))
	}

	// Delivered rows drop out of the due set.
	past.Status = webhook.AttemptDelivered
	if err := store.UpdateAttempt(ctx, past); err != nil {
		t.Fatalf("UpdateAttempt: %v", err)
	}
	due, err = store.DueAttempts(ctx, now, 10)
	if err != nil {
		t.Fatalf("DueAttempts after update: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("expected no due attempts, got %d", len(due))
	}
}
