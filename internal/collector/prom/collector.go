package prom

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/samijaber1/aegis-relay/internal/collector"
	"github.com/samijaber1/aegis-relay/internal/sla"
)

// Config holds Prometheus collector configuration
type Config struct {
	URL            string
	Timeout        time.Duration
	MaxConcurrency int64
	RetryCount     int
	RetryDelay     time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig(prometheusURL string) Config {
	return Config{
		URL:            prometheusURL,
		Timeout:        10 * time.Second,
		MaxConcurrency: 10,
		RetryCount:     1,
		RetryDelay:     100 * time.Millisecond,
	}
}

// Collector reads current metric values from a Prometheus server. The query
// template comes from the definition itself; {{window}} and scope label
// placeholders are substituted at collect time.
type Collector struct {
	config Config
	client *http.Client
	sem    *semaphore.Weighted
}

// New creates a new Prometheus collector
func New(config Config) *Collector {
	return &Collector{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		sem: semaphore.NewWeighted(config.MaxConcurrency),
	}
}

// Collect implements the collector.Collector interface by executing the
// definition's instant query with its window substituted.
func (c *Collector) Collect(ctx context.Context, def *sla.SLADefinition, scope sla.Scope) (collector.Sample, error) {
	if def.Query == "" {
		return collector.Sample{}, fmt.Errorf("definition %q has no query", def.Slug)
	}

	instantQuery := substitutePlaceholders(def.Query, def, scope)

	// Acquire semaphore to limit concurrency
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return collector.Sample{}, fmt.Errorf("semaphore acquire: %w", err)
	}
	defer c.sem.Release(1)

	// Execute query with retry
	var lastErr error
	for attempt := 0; attempt <= c.config.RetryCount; attempt++ {
		if attempt > 0 {
			time.Sleep(c.config.RetryDelay)
		}

		result, err := c.executeQuery(ctx, instantQuery)
		if err == nil {
			if len(result.Data.Result) == 0 {
				return collector.Sample{}, collector.ErrNoData
			}
			return collector.Sample{
				Value:       extractScalarValue(result),
				SampleCount: len(result.Data.Result),
			}, nil
		}

		lastErr = err
	}

	return collector.Sample{}, fmt.Errorf("query failed after %d attempts: %w", c.config.RetryCount+1, lastErr)
}

// executeQuery performs a single Prometheus query
func (c *Collector) executeQuery(ctx context.Context, query string) (*QueryResponse, error) {
	// Build query URL
	queryURL := fmt.Sprintf("%s/api/v1/query", strings.TrimSuffix(c.config.URL, "/"))

	// Add query parameter
	params := url.Values{}
	params.Add("query", query)

	fullURL := queryURL + "?" + params.Encode()

	// Create request
	req, err := http.NewRequestWithContext(ctx, "GET", fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	// Execute request
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	// Read response body
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	// Check HTTP status
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, string(body))
	}

	// Parse JSON response
	var result QueryResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	// Check Prometheus status
	if result.Status != "success" {
		return nil, fmt.Errorf("prometheus error: %s", result.Error)
	}

	return &result, nil
}

// substitutePlaceholders fills the query template with the definition window
// and scope identifiers
func substitutePlaceholders(query string, def *sla.SLADefinition, scope sla.Scope) string {
	out := strings.ReplaceAll(query, "{{window}}", fmt.Sprintf("%dm", def.WindowMinutes))
	out = strings.ReplaceAll(out, "{{workflow_id}}", scope.WorkflowID)
	out = strings.ReplaceAll(out, "{{entity_id}}", scope.EntityID)
	return out
}

// extractScalarValue extracts a scalar value from query response
// Aggregates all results by summing them
func extractScalarValue(resp *QueryResponse) float64 {
	if resp == nil || len(resp.Data.Result) == 0 {
		return 0
	}

	var sum float64
	for _, result := range resp.Data.Result {
		sum += result.Value.Value()
	}

	return sum
}
