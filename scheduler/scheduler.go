// Package scheduler runs the monthly reconciliation for the previous calendar
// month and publishes the result to the report store.
package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/giygas/ndc-report/interfaces"
	"github.com/giygas/ndc-report/logging"
	"github.com/giygas/ndc-report/pipeline"
	"github.com/giygas/ndc-report/records"
	"github.com/giygas/ndc-report/report"
	"github.com/go-co-op/gocron"
)

// staleAfter is how old the latest report may get before the monitor warns
const staleAfter = 35 * 24 * time.Hour

// Compile-time check to ensure Scheduler implements Scheduler interface
var _ interfaces.Scheduler = (*Scheduler)(nil)

// Config describes the scheduled job
type Config struct {
	// Options is the run template; Period and Output are set per run
	Options pipeline.Options
	Deps    pipeline.Deps

	ReportDir   string
	Format      string
	ScheduleDay int
	RunOnStart  bool
}

// Scheduler handles report runs and health monitoring using dependency injection
type Scheduler struct {
	store     interfaces.ReportStore
	cfg       Config
	scheduler *gocron.Scheduler
	now       func() time.Time
	stop      chan struct{}
	stopOnce  sync.Once

	// ctx is cancelled by Stop so in-flight runs abort their lookups
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a new scheduler instance with injected dependencies
func NewScheduler(store interfaces.ReportStore, cfg Config) *Scheduler {
	if cfg.ScheduleDay < 1 || cfg.ScheduleDay > 28 {
		cfg.ScheduleDay = 1
	}
	if cfg.Format == "" {
		cfg.Format = report.FormatExcel
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:     store,
		cfg:       cfg,
		scheduler: gocron.NewScheduler(time.Local),
		now:       time.Now,
		stop:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start runs the first report when configured, then schedules the monthly job
func (s *Scheduler) Start() error {
	if s.cfg.RunOnStart {
		if err := s.RunNow(s.ctx); err != nil {
			logging.Error("Failed to perform initial report run", "error", err)
			return fmt.Errorf("initial report run failed: %w", err)
		}
	}

	_, err := s.scheduler.Every(1).Month(s.cfg.ScheduleDay).At("06:00").SingletonMode().Do(func() {
		if err := s.RunNow(s.ctx); err != nil {
			logging.Error("Scheduled report run failed", "error", err)
		}
	})
	if err != nil {
		logging.Error("Failed to schedule report runs", "error", err)
		return fmt.Errorf("failed to schedule report runs: %w", err)
	}

	s.scheduler.StartAsync()
	s.startHealthMonitoring()

	return nil
}

// Stop cancels a run in progress, then stops the scheduler and the monitor
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.scheduler.Stop()
		close(s.stop)
	})
}

// RunNow reconciles the previous calendar month and stores the report.
// A run already in progress makes it return immediately.
func (s *Scheduler) RunNow(ctx context.Context) error {
	if !s.store.BeginUpdate() {
		logging.Info("Report run already in progress, skipping...")
		return nil
	}
	defer s.store.EndUpdate()

	month := records.PreviousMonth(s.now())
	period, err := records.MonthPeriod(month)
	if err != nil {
		return err
	}

	opts := s.cfg.Options
	opts.Period = period
	opts.Format = s.cfg.Format
	if s.cfg.ReportDir != "" {
		ext := s.cfg.Format
		if ext == report.FormatExcel {
			ext = "xlsx"
		}
		opts.Output = filepath.Join(s.cfg.ReportDir, fmt.Sprintf("ndc-report-%s.%s", month, ext))
	}

	logging.Info("Starting report run", "month", month, "output", opts.Output)

	rep, err := pipeline.Run(ctx, opts, s.cfg.Deps)
	if err != nil {
		return fmt.Errorf("report run for %s failed: %w", month, err)
	}

	s.store.UpdateReport(rep)
	return nil
}

// startHealthMonitoring warns when the latest report gets stale
func (s *Scheduler) startHealthMonitoring() {
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				if s.now().Sub(s.store.GetLastUpdated()) > staleAfter {
					logging.Warn("Report hasn't been refreshed in over 35 days")
				}
			}
		}
	}()
}
