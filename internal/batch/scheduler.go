// Package batch runs argument sets on a cron schedule.
package batch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// RunFunc runs one scheduled batch. ctx carries the batch's max_duration.
type RunFunc func(ctx context.Context, cfg BatchConfig) error

// Scheduler manages scheduled batch runs
type Scheduler struct {
	configs map[string]BatchConfig
	parser  cron.Parser
	lastRun map[string]time.Time
	running map[string]bool
	mu      sync.RWMutex
	now     func() time.Time
	tick    time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithTick sets how often schedules are checked.
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) { s.tick = d }
}

// WithLogger sets the scheduler logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler creates a new batch scheduler. Disabled batches are skipped.
func NewScheduler(configs []BatchConfig, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		configs: make(map[string]BatchConfig),
		parser:  newParser(),
		lastRun: make(map[string]time.Time),
		running: make(map[string]bool),
		now:     time.Now,
		tick:    time.Minute,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if cfg.Disabled {
			continue
		}
		s.configs[cfg.Name] = cfg
	}

	return s, nil
}

func newParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// ParseCron parses a five-field cron expression or a descriptor like @daily
func ParseCron(expr string) (cron.Schedule, error) {
	return newParser().Parse(expr)
}

// NextRun returns the next scheduled run time for a batch
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[name]
	if !ok {
		return time.Time{}
	}

	sched, err := s.parser.Parse(cfg.Cron)
	if err != nil {
		return time.Time{}
	}

	return sched.Next(s.now())
}

// ShouldRun returns true if a batch is due and not already running
func (s *Scheduler) ShouldRun(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[name]
	if !ok {
		return false
	}

	if s.running[name] {
		return false
	}

	sched, err := s.parser.Parse(cfg.Cron)
	if err != nil {
		return false
	}

	now := s.now()
	lastRun := s.lastRun[name]
	if lastRun.IsZero() {
		lastRun = now.Add(-s.tick)
	}

	return !now.Before(sched.Next(lastRun))
}

// MarkRunning marks a batch as currently running
func (s *Scheduler) MarkRunning(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = true
}

// MarkComplete marks a batch as complete
func (s *Scheduler) MarkComplete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = false
	s.lastRun[name] = s.now()
}

// GetConfig returns the config for a batch
func (s *Scheduler) GetConfig(name string) (BatchConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[name]
	return cfg, ok
}

// ListBatches returns all batch names, sorted
func (s *Scheduler) ListBatches() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.configs))
	for name := range s.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start checks the schedule every tick until ctx is done, then waits for
// running batches. A batch never overlaps with itself.
func (s *Scheduler) Start(ctx context.Context, run RunFunc) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	defer s.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatch(ctx, run)
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, run RunFunc) {
	for _, name := range s.ListBatches() {
		if !s.ShouldRun(name) {
			continue
		}
		cfg, _ := s.GetConfig(name)
		s.MarkRunning(name)
		s.wg.Add(1)
		go func(c BatchConfig) {
			defer s.wg.Done()
			defer s.MarkComplete(c.Name)

			runCtx, cancel := context.WithTimeout(ctx, c.Timeout())
			defer cancel()

			s.logger.Info("scheduled batch starting", "schedule", c.Name, "base", c.Base)
			if err := run(runCtx, c); err != nil {
				s.logger.Error("scheduled batch failed", "schedule", c.Name, "error", err)
			}
		}(cfg)
	}
}
