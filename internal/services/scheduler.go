package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultSchedule runs the pipeline daily at 07:00.
const DefaultSchedule = "0 7 * * *"

// Runner is the part of SelectionService the scheduler drives.
type Runner interface {
	Run(ctx context.Context, season, gameweek, maxChanges int) (*RunResult, error)
}

type SchedulerConfig struct {
	Spec       string
	Season     int
	MaxChanges int
	// Timeout bounds one scheduled run; zero means no limit.
	Timeout time.Duration
}

// Scheduler triggers selection runs for the next gameweek on a cron spec.
type Scheduler struct {
	cron      *cron.Cron
	runner    Runner
	cfg       SchedulerConfig
	logger    *logrus.Entry
	mu        sync.Mutex
	isRunning bool
	entryID   cron.EntryID
	lastRun   time.Time
	lastError error
}

func NewScheduler(runner Runner, cfg SchedulerConfig, logger *logrus.Entry) *Scheduler {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.Spec == "" {
		cfg.Spec = DefaultSchedule
	}
	logger = logger.WithField("component", "scheduler")

	cronLogger := cron.VerbosePrintfLogger(logger)
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	return &Scheduler{
		cron:   c,
		runner: runner,
		cfg:    cfg,
		logger: logger,
	}
}

func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return errors.New("scheduler is already running")
	}

	id, err := s.cron.AddFunc(s.cfg.Spec, s.runScheduled)
	if err != nil {
		return fmt.Errorf("failed to schedule selection job %q: %w", s.cfg.Spec, err)
	}
	s.entryID = id
	s.cron.Start()
	s.isRunning = true

	s.logger.WithFields(logrus.Fields{
		"schedule": s.cfg.Spec,
		"next_run": s.cron.Entry(id).Next,
	}).Info("Selection scheduler started")
	return nil
}

// Stop waits up to five seconds for a running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}

	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
		s.logger.Info("Selection scheduler stopped gracefully")
	case <-time.After(5 * time.Second):
		s.logger.Warn("Selection scheduler stop timed out")
	}
	s.cron.Remove(s.entryID)
	s.isRunning = false
}

// NextRun is zero while the scheduler is stopped.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// LastRun returns when the last scheduled run finished and its error.
func (s *Scheduler) LastRun() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastError
}

func (s *Scheduler) runScheduled() {
	ctx := context.Background()
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	res, err := s.runner.Run(ctx, s.cfg.Season, 0, s.cfg.MaxChanges)

	s.mu.Lock()
	s.lastRun = time.Now()
	s.lastError = err
	s.mu.Unlock()

	if err != nil {
		s.logger.WithError(err).Error("Scheduled selection run failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"run_id":   res.RunID,
		"gameweek": res.Squad.Gameweek,
		"mode":     res.Mode,
	}).Info("Scheduled selection run finished")
}
