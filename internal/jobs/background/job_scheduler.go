package background

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bizledger/internal/jobs"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Task is one unit of background work.
type Task interface {
	Run(ctx context.Context) error
}

// JobScheduler runs the ledger's periodic jobs.
type JobScheduler struct {
	scheduler gocron.Scheduler
	logger    *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	jobs      map[string]gocron.Job
	mu        sync.RWMutex
}

// NewJobScheduler creates a scheduler with the overdue sweep registered at
// interval. The sweep also runs once right after Start.
func NewJobScheduler(sweep *jobs.OverdueSweep, interval time.Duration, logger *zap.Logger) (*JobScheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	js := &JobScheduler{
		scheduler: scheduler,
		logger:    logger.Named("scheduler"),
		ctx:       ctx,
		cancel:    cancel,
		jobs:      make(map[string]gocron.Job),
	}

	if err := js.Register(jobs.OverdueSweepJob, interval, sweep); err != nil {
		cancel()
		_ = scheduler.Shutdown()
		return nil, err
	}
	return js, nil
}

// Register schedules task every interval. Runs never overlap; a run that is
// still going when the next is due pushes it back.
func (js *JobScheduler) Register(name string, interval time.Duration, task Task) error {
	job, err := js.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(js.run, name, task),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("failed to create %s job: %w", name, err)
	}

	js.mu.Lock()
	js.jobs[name] = job
	js.mu.Unlock()

	js.logger.Info("registered job", zap.String("job", name), zap.Duration("interval", interval))
	return nil
}

func (js *JobScheduler) run(name string, task Task) {
	if err := task.Run(js.ctx); err != nil {
		js.logger.Warn("job run failed", zap.String("job", name), zap.Error(err))
	}
}

// Start starts the job scheduler
func (js *JobScheduler) Start() {
	js.logger.Info("starting background job scheduler")
	js.scheduler.Start()
}

// Stop cancels running jobs and waits for them to return.
func (js *JobScheduler) Stop() error {
	js.logger.Info("stopping background job scheduler")
	js.cancel()
	return js.scheduler.Shutdown()
}

// RunNow triggers the named job outside its schedule.
func (js *JobScheduler) RunNow(name string) error {
	js.mu.RLock()
	job, ok := js.jobs[name]
	js.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return job.RunNow()
}

// NextRun reports when the named job runs next.
func (js *JobScheduler) NextRun(name string) (time.Time, error) {
	js.mu.RLock()
	job, ok := js.jobs[name]
	js.mu.RUnlock()
	if !ok {
		return time.Time{}, fmt.Errorf("unknown job %q", name)
	}
	return job.NextRun()
}
