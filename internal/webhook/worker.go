package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/samijaber1/aegis-relay/internal/event"
	"github.com/samijaber1/aegis-relay/internal/metrics"
)

// maxCapturedBody bounds how much of an endpoint's response is kept in the
// attempt audit row.
const maxCapturedBody = 1024

// Store is the slice of persistence the worker needs.
type Store interface {
	ListUnfannedEvents(ctx context.Context, limit int) ([]event.Event, error)
	MarkEventFanned(ctx context.Context, eventID string) error
	GetEvent(ctx context.Context, id string) (*event.Event, error)
	IncrementEventDelivered(ctx context.Context, eventID string) error

	ListEndpoints(ctx context.Context, onlyActive bool) ([]Endpoint, error)
	GetEndpoint(ctx context.Context, id string) (*Endpoint, error)
	UpdateEndpoint(ctx context.Context, ep *Endpoint) error
	RecordEndpointSuccess(ctx context.Context, id string, at time.Time) error
	RecordEndpointFailure(ctx context.Context, id string, at time.Time, threshold int) (bool, error)

	InsertAttempt(ctx context.Context, a *DeliveryAttempt) error
	UpdateAttempt(ctx context.Context, a *DeliveryAttempt) error
	DueAttempts(ctx context.Context, now time.Time, limit int) ([]DeliveryAttempt, error)
}

// WorkerConfig tunes the delivery worker.
type WorkerConfig struct {
	PollInterval     time.Duration // how often to fan out and drain due attempts
	HTTPTimeout      time.Duration // per-POST deadline
	BatchLimit       int           // max events / attempts fetched per tick
	Concurrency      int           // endpoints delivered to in parallel
	FailureThreshold int           // exhausted events tolerated before deactivation
	RateLimit        rate.Limit    // per-endpoint request rate
	RateBurst        int
}

// DefaultWorkerConfig returns production defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval:     10 * time.Second,
		HTTPTimeout:      30 * time.Second,
		BatchLimit:       100,
		Concurrency:      8,
		FailureThreshold: 10,
		RateLimit:        rate.Limit(5),
		RateBurst:        5,
	}
}

// Worker pushes persisted events to subscribed endpoints. New events are
// fanned out into per-endpoint pending attempts; due attempts are delivered
// with HMAC signing, bounded retries, and per-endpoint failure accounting.
// Attempts against the same endpoint are serialized so retries cannot
// overtake each other; distinct endpoints deliver in parallel.
type Worker struct {
	store  Store
	logger *zap.SugaredLogger
	cfg    WorkerConfig
	client *http.Client

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewWorker creates a delivery worker.
func NewWorker(store Store, logger *zap.SugaredLogger, cfg WorkerConfig) *Worker {
	if cfg.BatchLimit < 1 {
		cfg.BatchLimit = 100
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Worker{
		store:    store,
		logger:   logger,
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.HTTPTimeout},
		limiters: make(map[string]*rate.Limiter),
	}
}

// Start begins the delivery loop.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("delivery worker already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.running = true

	w.wg.Add(1)
	go w.loop(ctx)

	w.logger.Infow("Delivery worker started", "poll_interval", w.cfg.PollInterval)
	return nil
}

// Stop stops the loop and waits for in-flight deliveries to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.cancel()
	w.running = false
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Infow("Delivery worker stopped")
}

func (w *Worker) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single fan-out plus drain cycle. Exported so tests and
// the admin API can trigger delivery deterministically.
func (w *Worker) RunOnce(ctx context.Context) {
	if err := w.fanOutNewEvents(ctx); err != nil && !errors.Is(err, context.Canceled) {
		w.logger.Errorw("Fan-out failed", "error", err)
	}
	if err := w.processDueAttempts(ctx); err != nil && !errors.Is(err, context.Canceled) {
		w.logger.Errorw("Delivery pass failed", "error", err)
	}
}

// fanOutNewEvents turns each not-yet-fanned event into one pending attempt
// per subscribed active endpoint. An event with no subscribers is still
// marked fanned so it is never revisited.
func (w *Worker) fanOutNewEvents(ctx context.Context) error {
	events, err := w.store.ListUnfannedEvents(ctx, w.cfg.BatchLimit)
	if err != nil {
		return fmt.Errorf("list unfanned events: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	endpoints, err := w.store.ListEndpoints(ctx, true)
	if err != nil {
		return fmt.Errorf("list endpoints: %w", err)
	}

	now := time.Now().UTC()
	for i := range events {
		ev := &events[i]
		matched := 0
		for j := range endpoints {
			ep := &endpoints[j]
			if !ep.Subscribed(ev.Type) {
				continue
			}
			attempt := &DeliveryAttempt{
				EventID:       ev.ID,
				EndpointID:    ep.ID,
				AttemptNumber: 1,
				Status:        AttemptPending,
				NextAttemptAt: now,
			}
			if err := w.store.InsertAttempt(ctx, attempt); err != nil {
				return fmt.Errorf("insert attempt for event %s: %w", ev.ID, err)
			}
			matched++
		}
		if err := w.store.MarkEventFanned(ctx, ev.ID); err != nil {
			return fmt.Errorf("mark event fanned: %w", err)
		}
		w.logger.Debugw("Event fanned out", "event_id", ev.ID, "type", ev.Type, "endpoints", matched)
	}
	return nil
}

// processDueAttempts drains pending attempts whose time has come, grouped
// by endpoint.
func (w *Worker) processDueAttempts(ctx context.Context) error {
	due, err := w.store.DueAttempts(ctx, time.Now().UTC(), w.cfg.BatchLimit)
	if err != nil {
		return fmt.Errorf("list due attempts: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	byEndpoint := make(map[string][]DeliveryAttempt)
	var order []string
	for _, a := range due {
		if _, seen := byEndpoint[a.EndpointID]; !seen {
			order = append(order, a.EndpointID)
		}
		byEndpoint[a.EndpointID] = append(byEndpoint[a.EndpointID], a)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)

	for _, endpointID := range order {
		endpointID := endpointID
		attempts := byEndpoint[endpointID]
		g.Go(func() error {
			for i := range attempts {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if err := w.deliver(gctx, &attempts[i]); err != nil {
					w.logger.Errorw("Delivery bookkeeping failed",
						"attempt_id", attempts[i].ID,
						"endpoint_id", endpointID,
						"error", err,
					)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) limiter(endpointID string) *rate.Limiter {
	w.limiterMu.Lock()
	defer w.limiterMu.Unlock()

	l, ok := w.limiters[endpointID]
	if !ok {
		l = rate.NewLimiter(w.cfg.RateLimit, w.cfg.RateBurst)
		w.limiters[endpointID] = l
	}
	return l
}

// deliver executes one attempt end to end: sign, POST, record the outcome,
// and schedule a retry or give up. The returned error covers bookkeeping
// failures only; an unreachable endpoint is a recorded outcome, not an
// error.
func (w *Worker) deliver(ctx context.Context, a *DeliveryAttempt) error {
	ep, err := w.store.GetEndpoint(ctx, a.EndpointID)
	if err != nil {
		return fmt.Errorf("load endpoint: %w", err)
	}
	if !ep.Active {
		a.Status = AttemptGaveUp
		a.Error = "endpoint deactivated"
		return w.store.UpdateAttempt(ctx, a)
	}

	ev, err := w.store.GetEvent(ctx, a.EventID)
	if err != nil {
		return fmt.Errorf("load event: %w", err)
	}

	body, err := ev.WireBody()
	if err != nil {
		return fmt.Errorf("serialize event %s: %w", ev.ID, err)
	}

	signature, err := Sign(body, ep.Secret)
	if err != nil {
		// A missing secret is a configuration defect, not a transient
		// failure; retrying cannot fix it.
		a.Status = AttemptGaveUp
		a.Error = err.Error()
		if uerr := w.store.UpdateAttempt(ctx, a); uerr != nil {
			return uerr
		}
		ep.Active = false
		if uerr := w.store.UpdateEndpoint(ctx, ep); uerr != nil {
			return uerr
		}
		metrics.DeliveryAttempts.WithLabelValues("misconfigured").Inc()
		w.logger.Errorw("Endpoint has no signing secret, deactivated",
			"endpoint_id", ep.ID, "url", ep.URL)
		return nil
	}

	if err := w.limiter(ep.ID).Wait(ctx); err != nil {
		return err
	}

	started := time.Now()
	status, respBody, postErr := w.post(ctx, ep.URL, ev, signature, body)
	latency := time.Since(started)

	a.LatencyMS = latency.Milliseconds()
	a.ResponseStatus = status
	a.ResponseBody = truncate(respBody, maxCapturedBody)
	metrics.DeliveryDuration.Observe(latency.Seconds())

	if postErr == nil && status >= 200 && status < 300 {
		a.Status = AttemptDelivered
		a.Error = ""
		if err := w.store.UpdateAttempt(ctx, a); err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := w.store.RecordEndpointSuccess(ctx, ep.ID, now); err != nil {
			return err
		}
		if err := w.store.IncrementEventDelivered(ctx, ev.ID); err != nil {
			return err
		}
		metrics.DeliveryAttempts.WithLabelValues("delivered").Inc()
		metrics.EndpointFailureCount.WithLabelValues(ep.ID).Set(0)
		w.logger.Debugw("Event delivered",
			"event_id", ev.ID,
			"endpoint_id", ep.ID,
			"attempt", a.AttemptNumber,
			"latency_ms", a.LatencyMS,
		)
		return nil
	}

	if postErr != nil {
		a.Error = truncate(postErr.Error(), maxCapturedBody)
	} else {
		a.Error = fmt.Sprintf("unexpected status %d", status)
	}

	if a.AttemptNumber >= MaxAttempts {
		return w.giveUp(ctx, a, ep, ev)
	}

	a.Status = AttemptFailed
	if err := w.store.UpdateAttempt(ctx, a); err != nil {
		return err
	}

	next := &DeliveryAttempt{
		EventID:       a.EventID,
		EndpointID:    a.EndpointID,
		AttemptNumber: a.AttemptNumber + 1,
		Status:        AttemptPending,
		NextAttemptAt: time.Now().UTC().Add(Backoff(a.AttemptNumber + 1)),
	}
	if err := w.store.InsertAttempt(ctx, next); err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}

	metrics.DeliveryAttempts.WithLabelValues("failed").Inc()
	w.logger.Warnw("Delivery failed, retry scheduled",
		"event_id", ev.ID,
		"endpoint_id", ep.ID,
		"attempt", a.AttemptNumber,
		"next_attempt_at", next.NextAttemptAt,
		"error", a.Error,
	)
	return nil
}

// giveUp finalizes an exhausted event and charges the endpoint one failure.
// The failure count is per exhausted event, not per HTTP attempt.
func (w *Worker) giveUp(ctx context.Context, a *DeliveryAttempt, ep *Endpoint, ev *event.Event) error {
	a.Status = AttemptGaveUp
	if err := w.store.UpdateAttempt(ctx, a); err != nil {
		return err
	}

	now := time.Now().UTC()
	deactivated, err := w.store.RecordEndpointFailure(ctx, ep.ID, now, w.cfg.FailureThreshold)
	if err != nil {
		return err
	}

	metrics.DeliveryAttempts.WithLabelValues("gave_up").Inc()
	metrics.EndpointFailureCount.WithLabelValues(ep.ID).Set(float64(ep.FailureCount + 1))

	if deactivated {
		metrics.EndpointDeactivations.Inc()
		w.logger.Errorw("Endpoint deactivated after repeated failures",
			"endpoint_id", ep.ID,
			"url", ep.URL,
		)
	} else {
		w.logger.Warnw("Gave up delivering event",
			"event_id", ev.ID,
			"endpoint_id", ep.ID,
			"attempts", a.AttemptNumber,
		)
	}
	return nil
}

func (w *Worker) post(ctx context.Context, url string, ev *event.Event, signature string, body []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "aegis-relay/1.0")
	req.Header.Set(SignatureHeader, signature)
	req.Header.Set("X-Event-ID", ev.ID)
	req.Header.Set("X-Event-Type", ev.Type)

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	captured, _ := io.ReadAll(io.LimitReader(resp.Body, maxCapturedBody))
	return resp.StatusCode, string(captured), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
