package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/samijaber1/aegis-relay/internal/eval"
)

// Scheduler drives periodic evaluation passes. Passes never overlap: if one
// runs long, the next tick is skipped rather than stacked.
type Scheduler struct {
	engine   *eval.Engine
	logger   *zap.SugaredLogger
	interval time.Duration
	timeout  time.Duration

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
}

// New creates a scheduler that runs a full evaluation pass every interval.
// passTimeout bounds a single pass end to end.
func New(engine *eval.Engine, logger *zap.SugaredLogger, interval, passTimeout time.Duration) *Scheduler {
	return &Scheduler{
		engine:   engine,
		logger:   logger,
		interval: interval,
		timeout:  passTimeout,
	}
}

// Start runs an immediate pass, then schedules recurring ones.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))

	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, s.runPass); err != nil {
		return fmt.Errorf("schedule evaluation: %w", err)
	}

	s.cron.Start()
	s.running = true

	// First pass without waiting a full interval.
	go s.runPass()

	s.logger.Infow("Scheduler started", "interval", s.interval)
	return nil
}

// Stop cancels future ticks and waits for any in-flight pass.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	c := s.cron
	s.mu.Unlock()

	<-c.Stop().Done()
	s.logger.Infow("Scheduler stopped")
}

// EvaluateNow forces an immediate pass, for the admin API.
func (s *Scheduler) EvaluateNow(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.engine.EvaluatePass(ctx)
}

func (s *Scheduler) runPass() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.engine.EvaluatePass(ctx); err != nil {
		s.logger.Errorw("Evaluation pass failed", "error", err)
	}
}
