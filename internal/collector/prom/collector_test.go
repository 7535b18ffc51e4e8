package prom

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/samijaber1/aegis-relay/internal/collector"
	"github.com/samijaber1/aegis-relay/internal/sla"
)

func testDefinition(query string) *sla.SLADefinition {
	return &sla.SLADefinition{
		Slug:          "order-pipeline-latency",
		ObjectiveType: sla.ObjectiveLatency,
		TargetNumeric: 30,
		Operator:      sla.OpLessEqual,
		WindowMinutes: 60,
		Enabled:       true,
		Query:         query,
	}
}

func vectorResponse(values ...string) QueryResponse {
	resp := QueryResponse{
		Status: "success",
		Data:   QueryData{ResultType: "vector"},
	}
	for _, v := range values {
		resp.Data.Result = append(resp.Data.Result, VectorResult{
			Metric: map[string]string{"job": "test"},
			Value:  SamplePair{float64(time.Now().Unix()), v},
		})
	}
	return resp
}

func TestCollectExecutesDefinitionQuery(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(vectorResponse("22.5"))
	}))
	defer server.Close()

	c := New(DefaultConfig(server.URL))
	def := testDefinition("rate(order_duration_sum[{{window}}])")

	sample, err := c.Collect(context.Background(), def, sla.Scope{})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if sample.Value != 22.5 {
		t.Errorf("value = %v, want 22.5", sample.Value)
	}
	if sample.SampleCount != 1 {
		t.Errorf("sample count = %d, want 1", sample.SampleCount)
	}
	if gotQuery != "rate(order_duration_sum[60m])" {
		t.Errorf("executed query = %q, window not substituted", gotQuery)
	}
}

func TestCollectSumsVectorResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(vectorResponse("10", "15.5"))
	}))
	defer server.Close()

	c := New(DefaultConfig(server.URL))
	sample, err := c.Collect(context.Background(), testDefinition("up"), sla.Scope{})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if sample.Value != 25.5 {
		t.Errorf("value = %v, want 25.5", sample.Value)
	}
	if sample.SampleCount != 2 {
		t.Errorf("sample count = %d, want 2", sample.SampleCount)
	}
}

func TestCollectEmptyResultIsNoData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(vectorResponse())
	}))
	defer server.Close()

	c := New(DefaultConfig(server.URL))
	_, err := c.Collect(context.Background(), testDefinition("up"), sla.Scope{})
	if !errors.Is(err, collector.ErrNoData) {
		t.Errorf("expected ErrNoData for an empty vector, got %v", err)
	}
}

func TestCollectRequiresQuery(t *testing.T) {
	c := New(DefaultConfig("http://prometheus:9090"))
	_, err := c.Collect(context.Background(), testDefinition(""), sla.Scope{})
	if err == nil {
		t.Fatal("expected an error for a definition without a query")
	}
}

func TestCollectPrometheusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(QueryResponse{Status: "error", Error: "bad expression"})
	}))
	defer server.Close()

	cfg := DefaultConfig(server.URL)
	cfg.RetryCount = 0
	c := New(cfg)

	_, err := c.Collect(context.Background(), testDefinition("nonsense("), sla.Scope{})
	if err == nil {
		t.Fatal("expected an error for a failed prometheus query")
	}
}

func TestCollectRetriesTransientFailures(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(vectorResponse("7"))
	}))
	defer server.Close()

	cfg := DefaultConfig(server.URL)
	cfg.RetryDelay = time.Millisecond
	c := New(cfg)

	sample, err := c.Collect(context.Background(), testDefinition("up"), sla.Scope{})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if sample.Value != 7 {
		t.Errorf("value = %v, want 7", sample.Value)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestSubstitutePlaceholders(t *testing.T) {
	def := testDefinition("")
	def.WindowMinutes = 30

	tests := []struct {
		name     string
		query    string
		scope    sla.Scope
		expected string
	}{
		{
			name:     "window only",
			query:    "rate(metric[{{window}}])",
			expected: "rate(metric[30m])",
		},
		{
			name:     "repeated window",
			query:    "rate(good[{{window}}]) / rate(total[{{window}}])",
			expected: "rate(good[30m]) / rate(total[30m])",
		},
		{
			name:     "scope labels",
			query:    `latency{workflow="{{workflow_id}}",entity="{{entity_id}}"}`,
			scope:    sla.Scope{WorkflowID: "wf-eu", EntityID: "e-7"},
			expected: `latency{workflow="wf-eu",entity="e-7"}`,
		},
		{
			name:     "no placeholders",
			query:    "up",
			expected: "up",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := substitutePlaceholders(tt.query, def, tt.scope)
			if got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}
