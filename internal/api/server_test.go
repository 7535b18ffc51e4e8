package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/samijaber1/aegis-relay/internal/breach"
	"github.com/samijaber1/aegis-relay/internal/collector"
	"github.com/samijaber1/aegis-relay/internal/collector/synthetic"
	"github.com/samijaber1/aegis-relay/internal/eval"
	"github.com/samijaber1/aegis-relay/internal/event"
	"github.com/samijaber1/aegis-relay/internal/logging"
	"github.com/samijaber1/aegis-relay/internal/scheduler"
	"github.com/samijaber1/aegis-relay/internal/sla"
	"github.com/samijaber1/aegis-relay/internal/storage/sqlite"
)

const testToken = "test-admin-token"

type apiFixture struct {
	store    *sqlite.Store
	synth    *synthetic.Collector
	breaches *breach.Manager
	handler  http.Handler
}

func newAPIFixture(t *testing.T, token string) *apiFixture {
	t.Helper()
	store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	synth := synthetic.New()
	registry := collector.NewRegistry()
	for _, o := range []sla.ObjectiveType{sla.ObjectiveLatency, sla.ObjectiveFreshness, sla.ObjectiveCadence, sla.ObjectiveSuccessRate} {
		registry.Register(o, synth)
	}

	logger := logging.NewNop()
	publisher := event.NewPublisher(store, "test", logger)
	breaches := breach.NewManager(store, publisher, logger)
	engine := eval.NewEngine(store, registry, breaches, logger, 5*time.Second, 4, time.Minute)
	sched := scheduler.New(engine, logger, time.Minute, 30*time.Second)

	srv := NewServer(store, engine, breaches, sched, logger, "127.0.0.1:0", token)
	return &apiFixture{
		store:    store,
		synth:    synth,
		breaches: breaches,
		handler:  srv.server.Handler,
	}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func definitionBody(slug string) map[string]interface{} {
	return map[string]interface{}{
		"slug":               slug,
		"name":               "Order latency",
		"objective_type":     "latency",
		"target_numeric":     30,
		"threshold_operator": "<=",
		"window_minutes":     60,
	}
}

func TestAuthRequiredForWrites(t *testing.T) {
	f := newAPIFixture(t, testToken)

	rec := f.do(t, http.MethodPost, "/v1/definitions", "", definitionBody("a"))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/v1/definitions", "wrong-token", definitionBody("a"))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/v1/definitions", testToken, definitionBody("a"))
	if rec.Code != http.StatusCreated {
		t.Errorf("valid token: status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	// Reads need no token.
	rec = f.do(t, http.MethodGet, "/v1/definitions", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("unauthenticated read: status = %d, want 200", rec.Code)
	}
}

func TestNoTokenDisablesWrites(t *testing.T) {
	f := newAPIFixture(t, "")

	rec := f.do(t, http.MethodPost, "/v1/definitions", "anything", definitionBody("a"))
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403 when no admin token is configured", rec.Code)
	}
}

func TestDefinitionLifecycle(t *testing.T) {
	f := newAPIFixture(t, testToken)

	rec := f.do(t, http.MethodPost, "/v1/definitions", testToken, definitionBody("order-latency"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d: %s", rec.Code, rec.Body.String())
	}
	var created sla.SLADefinition
	decodeBody(t, rec, &created)
	if created.ID == "" || created.Slug != "order-latency" || !created.Enabled {
		t.Errorf("unexpected created definition: %+v", created)
	}

	// Duplicate slug conflicts.
	rec = f.do(t, http.MethodPost, "/v1/definitions", testToken, definitionBody("order-latency"))
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate slug: status = %d, want 409", rec.Code)
	}

	// Fetch by id and by slug resolve to the same definition.
	for _, key := range []string{created.ID, created.Slug} {
		rec = f.do(t, http.MethodGet, "/v1/definitions/"+key, "", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("get %q: status = %d", key, rec.Code)
		}
	}

	// Update changes the target in place.
	body := definitionBody("order-latency")
	body["target_numeric"] = 45
	rec = f.do(t, http.MethodPut, "/v1/definitions/"+created.ID, testToken, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status = %d: %s", rec.Code, rec.Body.String())
	}
	var updated sla.SLADefinition
	decodeBody(t, rec, &updated)
	if updated.TargetNumeric != 45 {
		t.Errorf("target after update = %v, want 45", updated.TargetNumeric)
	}

	// A definition with no instances deletes outright.
	rec = f.do(t, http.MethodDelete, "/v1/definitions/"+created.ID, testToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: status = %d: %s", rec.Code, rec.Body.String())
	}
	var del DefinitionDeleteResponse
	decodeBody(t, rec, &del)
	if !del.Deleted || del.Disabled {
		t.Errorf("delete response = %+v, want deleted", del)
	}

	rec = f.do(t, http.MethodGet, "/v1/definitions/"+created.ID, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d, want 404", rec.Code)
	}
}

func TestDefinitionDeleteDisablesWhenReferenced(t *testing.T) {
	f := newAPIFixture(t, testToken)
	ctx := context.Background()

	rec := f.do(t, http.MethodPost, "/v1/definitions", testToken, definitionBody("order-latency"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d", rec.Code)
	}
	var created sla.SLADefinition
	decodeBody(t, rec, &created)

	if _, err := f.store.GetOrCreateInstance(ctx, created.ID, sla.Scope{}); err != nil {
		t.Fatalf("GetOrCreateInstance: %v", err)
	}

	rec = f.do(t, http.MethodDelete, "/v1/definitions/"+created.ID, testToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: status = %d: %s", rec.Code, rec.Body.String())
	}
	var del DefinitionDeleteResponse
	decodeBody(t, rec, &del)
	if del.Deleted || !del.Disabled {
		t.Errorf("delete response = %+v, want disabled", del)
	}

	def, err := f.store.GetDefinition(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetDefinition: %v", err)
	}
	if def.Enabled {
		t.Error("definition still enabled after soft delete")
	}
}

func TestDefinitionValidation(t *testing.T) {
	f := newAPIFixture(t, testToken)

	tests := []struct {
		name   string
		mutate func(map[string]interface{})
	}{
		{"missing slug", func(b map[string]interface{}) { b["slug"] = "" }},
		{"bad objective", func(b map[string]interface{}) { b["objective_type"] = "throughput" }},
		{"bad operator", func(b map[string]interface{}) { b["threshold_operator"] = "!=" }},
		{"zero target", func(b map[string]interface{}) { b["target_numeric"] = 0 }},
		{"zero window", func(b map[string]interface{}) { b["window_minutes"] = 0 }},
		{"unknown field", func(b map[string]interface{}) { b["surprise"] = true }},
		{"success rate over 100", func(b map[string]interface{}) {
			b["objective_type"] = "success_rate"
			b["target_numeric"] = 120
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := definitionBody("valid-slug")
			tt.mutate(body)
			rec := f.do(t, http.MethodPost, "/v1/definitions", testToken, body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestBreachAcknowledgeAndResolve(t *testing.T) {
	f := newAPIFixture(t, testToken)
	ctx := context.Background()

	def := &sla.SLADefinition{
		Slug: "order-latency", Name: "Order latency",
		ObjectiveType: sla.ObjectiveLatency, TargetNumeric: 30,
		Operator: sla.OpLessEqual, WindowMinutes: 60, Enabled: true,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	if err := f.store.CreateDefinition(ctx, def); err != nil {
		t.Fatalf("CreateDefinition: %v", err)
	}
	inst, err := f.store.GetOrCreateInstance(ctx, def.ID, sla.Scope{})
	if err != nil {
		t.Fatalf("GetOrCreateInstance: %v", err)
	}
	b, err := f.breaches.OpenOrEscalate(ctx, inst, def, 60, sla.SeverityHigh)
	if err != nil {
		t.Fatalf("OpenOrEscalate: %v", err)
	}

	// Missing actor rejects.
	rec := f.do(t, http.MethodPost, fmt.Sprintf("/v1/breaches/%s/acknowledge", b.ID), testToken, map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("ack without actor: status = %d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/v1/breaches/%s/acknowledge", b.ID), testToken, map[string]string{"actor": "oncall"})
	if rec.Code != http.StatusOK {
		t.Fatalf("ack: status = %d: %s", rec.Code, rec.Body.String())
	}
	var acked sla.Breach
	decodeBody(t, rec, &acked)
	if acked.Status != sla.BreachAcknowledged || acked.AcknowledgedBy != "oncall" {
		t.Errorf("unexpected acknowledged breach: %+v", acked)
	}

	// A second acknowledge is a state conflict.
	rec = f.do(t, http.MethodPost, fmt.Sprintf("/v1/breaches/%s/acknowledge", b.ID), testToken, map[string]string{"actor": "oncall"})
	if rec.Code != http.StatusConflict {
		t.Errorf("double ack: status = %d, want 409", rec.Code)
	}

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/v1/breaches/%s/resolve", b.ID), testToken, map[string]string{"notes": "rolled back deploy"})
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve: status = %d: %s", rec.Code, rec.Body.String())
	}
	var resolved sla.Breach
	decodeBody(t, rec, &resolved)
	if resolved.Status != sla.BreachResolved || resolved.ResolutionNotes != "rolled back deploy" {
		t.Errorf("unexpected resolved breach: %+v", resolved)
	}

	// Unknown ids are 404, not 500.
	rec = f.do(t, http.MethodPost, "/v1/breaches/nope/acknowledge", testToken, map[string]string{"actor": "oncall"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("ack unknown: status = %d, want 404", rec.Code)
	}
}

func TestEndpointSecretShownOnce(t *testing.T) {
	f := newAPIFixture(t, testToken)

	rec := f.do(t, http.MethodPost, "/v1/endpoints", testToken, map[string]interface{}{
		"url":    "https://hooks.example.com/sla",
		"events": []string{"sla.breach.opened"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d: %s", rec.Code, rec.Body.String())
	}
	var created EndpointCreatedResponse
	decodeBody(t, rec, &created)
	if created.Secret == "" {
		t.Fatal("creation response must include the raw secret")
	}
	if created.SecretHash == "" {
		t.Error("creation response must include the secret fingerprint")
	}

	// Any later read carries only the fingerprint.
	rec = f.do(t, http.MethodGet, "/v1/endpoints/"+created.ID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), created.Secret) {
		t.Error("raw secret leaked on endpoint read")
	}
}

func TestEndpointURLValidation(t *testing.T) {
	f := newAPIFixture(t, testToken)

	for _, bad := range []string{"", "ftp://example.com/x", "not-a-url", "https://"} {
		rec := f.do(t, http.MethodPost, "/v1/endpoints", testToken, map[string]interface{}{"url": bad})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("url %q: status = %d, want 400", bad, rec.Code)
		}
	}
}

func TestEndpointReactivationResetsFailures(t *testing.T) {
	f := newAPIFixture(t, testToken)
	ctx := context.Background()

	rec := f.do(t, http.MethodPost, "/v1/endpoints", testToken, map[string]interface{}{
		"url": "https://hooks.example.com/sla",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d", rec.Code)
	}
	var created EndpointCreatedResponse
	decodeBody(t, rec, &created)

	ep, err := f.store.GetEndpoint(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetEndpoint: %v", err)
	}
	ep.Active = false
	ep.FailureCount = 12
	if err := f.store.UpdateEndpoint(ctx, ep); err != nil {
		t.Fatalf("UpdateEndpoint: %v", err)
	}

	rec = f.do(t, http.MethodPut, "/v1/endpoints/"+created.ID, testToken, map[string]interface{}{"active": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status = %d: %s", rec.Code, rec.Body.String())
	}

	ep, err = f.store.GetEndpoint(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetEndpoint: %v", err)
	}
	if !ep.Active || ep.FailureCount != 0 {
		t.Errorf("after reactivation active=%v failure_count=%d, want active with zero failures", ep.Active, ep.FailureCount)
	}
}

func TestEvaluateAndCompliance(t *testing.T) {
	f := newAPIFixture(t, testToken)

	rec := f.do(t, http.MethodPost, "/v1/definitions", testToken, definitionBody("order-latency"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d", rec.Code)
	}
	f.synth.SetValue("order-latency", 12, 30)

	rec = f.do(t, http.MethodPost, "/v1/evaluate", testToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("evaluate: status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/v1/compliance", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("compliance: status = %d", rec.Code)
	}
	var resp ComplianceResponse
	decodeBody(t, rec, &resp)
	if len(resp.States) != 1 {
		t.Fatalf("compliance states = %d, want 1", len(resp.States))
	}
	if !resp.States[0].Compliant || resp.States[0].Value != 12 {
		t.Errorf("unexpected compliance state: %+v", resp.States[0])
	}
}

func TestHealthAndReadiness(t *testing.T) {
	f := newAPIFixture(t, testToken)

	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("healthz: status = %d", rec.Code)
	}

	// Nothing loaded yet: not ready.
	rec = f.do(t, http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("empty readyz: status = %d, want 503", rec.Code)
	}

	if got := f.do(t, http.MethodPost, "/v1/definitions", testToken, definitionBody("order-latency")); got.Code != http.StatusCreated {
		t.Fatalf("create: status = %d", got.Code)
	}
	rec = f.do(t, http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("readyz with definitions: status = %d, want 200", rec.Code)
	}
	var ready ReadyResponse
	decodeBody(t, rec, &ready)
	if !ready.Ready || ready.Definitions != 1 {
		t.Errorf("unexpected readiness: %+v", ready)
	}
}
