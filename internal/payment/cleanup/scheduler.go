package cleanup

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"ms-payments/internal/logger"
	"ms-payments/internal/models"
)

const DefaultIntervalMinutes = 5

var (
	ErrRunInProgress    = errors.New("a cleanup run is already in progress")
	ErrLeaseHeld        = errors.New("another replica holds the cleanup lease")
	ErrLeaseUnavailable = errors.New("cleanup lease unavailable")
	ErrRunAborted       = errors.New("cleanup run aborted")
)

type Runner interface {
	CheckExpiredPayments(ctx context.Context) models.CleanupRunResult
}

// Lease is an optional cross-replica guard taken after the in-process flag.
type Lease interface {
	Acquire(ctx context.Context) (string, error)
	Release(ctx context.Context, token string) error
}

type Reporter interface {
	PublishCleanupRun(ctx context.Context, result models.CleanupRunResult) error
}

type Status struct {
	IsScheduled bool `json:"isScheduled"`
	IsRunning   bool `json:"isRunning"`
}

type Metrics struct {
	RunsStarted   int64                    `json:"runsStarted"`
	RunsCompleted int64                    `json:"runsCompleted"`
	RunsFailed    int64                    `json:"runsFailed"`
	RunsSkipped   int64                    `json:"runsSkipped"`
	LastRunAt     *time.Time               `json:"lastRunAt,omitempty"`
	LastDuration  string                   `json:"lastDuration,omitempty"`
	LastResult    *models.CleanupRunResult `json:"lastResult,omitempty"`
}

type Option func(*Scheduler)

func WithLease(lease Lease) Option {
	return func(s *Scheduler) { s.lease = lease }
}

// WithReporter may be given more than once; every reporter sees every run.
func WithReporter(reporter Reporter) Option {
	return func(s *Scheduler) { s.reporters = append(s.reporters, reporter) }
}

// Scheduler runs the reconciler on a fixed cadence with at most one pass in
// flight per process. A tick that fires during a pass is dropped.
type Scheduler struct {
	reconciler Runner
	lease      Lease
	reporters  []Reporter
	log        *logger.Logger

	mu     sync.Mutex
	ticker *time.Ticker
	done   chan struct{}

	running atomic.Bool
	// passDone is closed when the current pass ends; nil while idle.
	passDone chan struct{}

	started   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64

	lastMu       sync.RWMutex
	lastRunAt    time.Time
	lastDuration time.Duration
	lastResult   *models.CleanupRunResult
}

func NewScheduler(reconciler Runner, log *logger.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{reconciler: reconciler, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start fires one pass immediately and then every intervalMinutes. Calling it
// while already scheduled does nothing.
func (s *Scheduler) Start(intervalMinutes int) {
	if intervalMinutes <= 0 {
		intervalMinutes = DefaultIntervalMinutes
	}
	s.StartEvery(time.Duration(intervalMinutes) * time.Minute)
}

func (s *Scheduler) StartEvery(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		s.log.LogCleanup("START", "Already scheduled")
		return
	}

	s.log.LogCleanup("START", fmt.Sprintf("Starting - will run every %s", interval))
	s.done = make(chan struct{})
	s.ticker = time.NewTicker(interval)
	go s.loop(s.ticker, s.done)

	go s.Run(context.Background())
}

func (s *Scheduler) loop(ticker *time.Ticker, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			go s.Run(context.Background())
		}
	}
}

// Stop disarms future ticks. A pass already running is left to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done == nil {
		return
	}
	s.ticker.Stop()
	close(s.done)
	s.ticker = nil
	s.done = nil
	s.log.LogCleanup("STOP", "Stopped")
}

// Wait blocks until the pass in flight, if any, has finished or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.passDone
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	scheduled := s.done != nil
	s.mu.Unlock()
	return Status{IsScheduled: scheduled, IsRunning: s.running.Load()}
}

// Run executes one pass unless another is in progress or the lease is
// elsewhere, in which case it returns false without touching the store.
func (s *Scheduler) Run(ctx context.Context) bool {
	_, err := s.Trigger(ctx)
	return err == nil || errors.Is(err, ErrRunAborted)
}

// Trigger runs one pass and returns that pass's own result. The error is
// ErrRunInProgress, ErrLeaseHeld or ErrLeaseUnavailable when the pass was
// skipped and ErrRunAborted when it panicked. A pass whose query failed is
// reported through result.Success, not the error.
func (s *Scheduler) Trigger(ctx context.Context) (models.CleanupRunResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.log.LogCleanup("SKIP", "Skipping - previous run still in progress")
		return models.CleanupRunResult{}, ErrRunInProgress
	}
	s.mu.Lock()
	done := make(chan struct{})
	s.passDone = done
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.passDone = nil
		s.running.Store(false)
		s.mu.Unlock()
		close(done)
	}()

	if s.lease != nil {
		token, err := s.lease.Acquire(ctx)
		if err != nil {
			s.skipped.Add(1)
			s.log.Error("CLEANUP", fmt.Sprintf("Skipping - could not take cleanup lease: %v", err))
			return models.CleanupRunResult{}, fmt.Errorf("%w: %v", ErrLeaseUnavailable, err)
		}
		if token == "" {
			s.skipped.Add(1)
			s.log.LogCleanup("SKIP", "Skipping - another replica holds the cleanup lease")
			return models.CleanupRunResult{}, ErrLeaseHeld
		}
		defer func() {
			if err := s.lease.Release(context.Background(), token); err != nil {
				s.log.Error("CLEANUP", fmt.Sprintf("Failed to release cleanup lease: %v", err))
			}
		}()
	}

	return s.execute(ctx)
}

func (s *Scheduler) execute(ctx context.Context) (result models.CleanupRunResult, err error) {
	start := time.Now()
	s.started.Add(1)
	s.log.LogCleanup("RUN", fmt.Sprintf("Starting cleanup at %s", start.UTC().Format(time.RFC3339)))

	defer func() {
		if r := recover(); r != nil {
			s.failed.Add(1)
			s.recordRun(start, time.Since(start), nil)
			s.log.ErrorWithData("CLEANUP", fmt.Sprintf("Unexpected error: %v", r), map[string]string{
				"stack": string(debug.Stack()),
			})
			result = models.CleanupRunResult{Timestamp: start, Error: fmt.Sprint(r)}
			err = fmt.Errorf("%w: %v", ErrRunAborted, r)
		}
	}()

	result = s.reconciler.CheckExpiredPayments(ctx)
	duration := time.Since(start)
	s.recordRun(start, duration, &result)

	if !result.Success {
		s.failed.Add(1)
		s.log.Error("CLEANUP", fmt.Sprintf("Failed: %s", result.Error))
	} else {
		s.completed.Add(1)
		s.log.InfoWithData("CLEANUP", "Completed successfully", map[string]any{
			"duration":     duration.String(),
			"totalExpired": result.TotalExpired,
			"updated":      result.UpdatedCount,
			"timestamp":    result.Timestamp,
		})
		if result.UpdatedCount > 0 {
			s.log.InfoWithData("CLEANUP", "Cancelled payments", result.Cancelled())
		}
		if failed := result.FailedEntries(); len(failed) > 0 {
			s.log.ErrorWithData("CLEANUP", fmt.Sprintf("%d expired payments could not be cancelled", len(failed)), failed)
		}
	}

	s.report(result)
	return result, nil
}

func (s *Scheduler) report(result models.CleanupRunResult) {
	if len(s.reporters) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, reporter := range s.reporters {
		if err := reporter.PublishCleanupRun(ctx, result); err != nil {
			s.log.Warn("CLEANUP", fmt.Sprintf("Cleanup result not published: %v", err))
		}
	}
}

func (s *Scheduler) recordRun(at time.Time, duration time.Duration, result *models.CleanupRunResult) {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	s.lastRunAt = at
	s.lastDuration = duration
	s.lastResult = result
}

func (s *Scheduler) Metrics() Metrics {
	m := Metrics{
		RunsStarted:   s.started.Load(),
		RunsCompleted: s.completed.Load(),
		RunsFailed:    s.failed.Load(),
		RunsSkipped:   s.skipped.Load(),
	}

	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	if !s.lastRunAt.IsZero() {
		at := s.lastRunAt
		m.LastRunAt = &at
		m.LastDuration = s.lastDuration.String()
	}
	if s.lastResult != nil {
		result := *s.lastResult
		m.LastResult = &result
	}
	return m
}
