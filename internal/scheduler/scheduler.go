// Package scheduler runs the periodic analysis and maintenance jobs.
package scheduler

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/matheus3301/wpptriage/internal/bus"
)

// AnalysisJobName names the user-configurable analysis job.
const AnalysisJobName = "analysis"

const jobTimeout = 30 * time.Minute

// Job represents a scheduled task.
type Job func(ctx context.Context) error

// parser accepts standard five-field expressions only.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate checks that expr is a five-field cron expression
// (minute hour day-of-month month day-of-week).
func Validate(expr string) error {
	if n := len(strings.Fields(expr)); n != 5 {
		return fmt.Errorf("invalid cron expression %q: expected 5 fields (minute hour day month day_of_week), got %d", expr, n)
	}
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// Status describes the analysis job.
type Status struct {
	Enabled  bool       `json:"enabled"`
	Schedule string     `json:"schedule"`
	NextRun  *time.Time `json:"next_run"`
}

// Scheduler manages periodic tasks.
type Scheduler struct {
	cron   *cron.Cron
	loc    *time.Location
	bus    *bus.Bus
	logger *zap.Logger

	mu       sync.Mutex
	jobs     map[string]cron.EntryID
	analysis Job
	schedule string
	enabled  bool
	now      func() time.Time
}

// New creates a scheduler evaluating expressions in loc. Overlapping runs of
// the same job are skipped.
func New(loc *time.Location, b *bus.Bus, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.Local
	}
	cl := cronLogger{logger.Sugar()}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithParser(parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return &Scheduler{
		cron:   c,
		loc:    loc,
		bus:    b,
		logger: logger,
		jobs:   make(map[string]cron.EntryID),
		now:    time.Now,
	}
}

// AddJob adds a job with a cron schedule.
// schedule format: "0 7 * * *" (at 7:00 AM daily)
func (s *Scheduler) AddJob(name, schedule string, job Job) error {
	if err := Validate(schedule); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(name, schedule, job)
}

func (s *Scheduler) addLocked(name, schedule string, job Job) error {
	if id, ok := s.jobs[name]; ok {
		s.cron.Remove(id)
		delete(s.jobs, name)
	}
	id, err := s.cron.AddFunc(schedule, s.wrap(name, job))
	if err != nil {
		return fmt.Errorf("schedule job %s: %w", name, err)
	}
	s.jobs[name] = id
	s.logger.Info("job scheduled", zap.String("job", name), zap.String("schedule", schedule))
	return nil
}

func (s *Scheduler) wrap(name string, job Job) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		s.logger.Info("job started", zap.String("job", name))
		s.bus.Emit(bus.KindSchedulerFired, name)
		start := time.Now()
		if err := job(ctx); err != nil {
			s.logger.Error("job failed", zap.String("job", name), zap.Error(err))
			return
		}
		s.logger.Info("job completed", zap.String("job", name), zap.Duration("elapsed", time.Since(start)))
	}
}

// Jobs returns the names of the scheduled jobs in sorted order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.jobs))
}

// RemoveJob removes a scheduled job.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
}

func (s *Scheduler) removeLocked(name string) {
	if id, ok := s.jobs[name]; ok {
		s.cron.Remove(id)
		delete(s.jobs, name)
		s.logger.Info("job removed", zap.String("job", name))
	}
}

// SetAnalysis registers the analysis job and its initial schedule. It is
// scheduled only when enabled.
func (s *Scheduler) SetAnalysis(job Job, schedule string, enabled bool) error {
	s.mu.Lock()
	s.analysis = job
	s.schedule = schedule
	s.mu.Unlock()
	if !enabled {
		return nil
	}
	return s.Enable(schedule)
}

// Enable schedules the analysis job with schedule, or with the current
// schedule when empty.
func (s *Scheduler) Enable(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if schedule == "" {
		schedule = s.schedule
	}
	if err := Validate(schedule); err != nil {
		return err
	}
	if s.analysis == nil {
		return fmt.Errorf("no analysis job registered")
	}
	if err := s.addLocked(AnalysisJobName, schedule, s.analysis); err != nil {
		return err
	}
	s.schedule = schedule
	s.enabled = true
	return nil
}

// Disable unschedules the analysis job, keeping its schedule.
func (s *Scheduler) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(AnalysisJobName)
	s.enabled = false
}

// Update enables or disables the analysis job. A non-empty schedule replaces
// the stored one even when disabling.
func (s *Scheduler) Update(enabled bool, schedule string) (Status, error) {
	if enabled {
		if err := s.Enable(schedule); err != nil {
			return s.Status(), err
		}
		return s.Status(), nil
	}
	if schedule != "" {
		if err := Validate(schedule); err != nil {
			return s.Status(), err
		}
	}
	s.Disable()
	if schedule != "" {
		s.mu.Lock()
		s.schedule = schedule
		s.mu.Unlock()
	}
	return s.Status(), nil
}

// Status reports the analysis job state. NextRun is nil when disabled.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Enabled: s.enabled, Schedule: s.schedule}
	if !s.enabled {
		return st
	}
	if sched, err := parser.Parse(s.schedule); err == nil {
		next := sched.Next(s.now().In(s.loc))
		st.NextRun = &next
	}
	return st
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	s.logger.Info("starting scheduler")
	s.cron.Start()
}

// Stop halts the scheduler. The returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("stopping scheduler")
	return s.cron.Stop()
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
