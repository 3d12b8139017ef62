package services

import (
	"context"
	"errors"
	"time"
)

// RetentionScheduler runs the retention sweep once a day at a fixed UTC wall-clock time.
type RetentionScheduler struct {
	service RetentionService
	hour    int
	minute  int
	timeout time.Duration
	clock   func() time.Time
	after   func(time.Duration) <-chan time.Time
	logger  func(context.Context, string, map[string]any)
}

// RetentionSchedulerOption customises a RetentionScheduler.
type RetentionSchedulerOption func(*RetentionScheduler)

// WithSchedulerClock overrides the clock and the wait function, mainly for tests.
func WithSchedulerClock(clock func() time.Time, after func(time.Duration) <-chan time.Time) RetentionSchedulerOption {
	return func(s *RetentionScheduler) {
		if clock != nil {
			s.clock = clock
		}
		if after != nil {
			s.after = after
		}
	}
}

// WithSchedulerLogger sets the event logger.
func WithSchedulerLogger(logger func(context.Context, string, map[string]any)) RetentionSchedulerOption {
	return func(s *RetentionScheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewRetentionScheduler builds a scheduler firing daily at hour:minute UTC. Each sweep is bounded by timeout.
func NewRetentionScheduler(service RetentionService, hour, minute int, timeout time.Duration, opts ...RetentionSchedulerOption) (*RetentionScheduler, error) {
	if service == nil {
		return nil, errors.New("retention scheduler: service is required")
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil, errors.New("retention scheduler: invalid run time")
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	s := &RetentionScheduler{
		service: service,
		hour:    hour,
		minute:  minute,
		timeout: timeout,
		clock:   time.Now,
		after:   time.After,
		logger:  func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run blocks until ctx is cancelled, sweeping once per day.
func (s *RetentionScheduler) Run(ctx context.Context) {
	for {
		now := s.clock().UTC()
		next := nextRun(now, s.hour, s.minute)
		s.logger(ctx, "retention.scheduled", map[string]any{"next": next.Format(time.RFC3339)})

		select {
		case <-ctx.Done():
			return
		case <-s.after(next.Sub(now)):
		}

		runCtx, cancel := context.WithTimeout(ctx, s.timeout)
		s.service.RunScheduledSweep(runCtx)
		cancel()
	}
}

// nextRun returns the first hour:minute UTC strictly after now.
func nextRun(now time.Time, hour, minute int) time.Time {
	now = now.UTC()
	candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}
