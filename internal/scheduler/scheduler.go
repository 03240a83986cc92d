package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/staybook/internal/clock"
	"github.com/smallbiznis/staybook/internal/lock"
	obsmetrics "github.com/smallbiznis/staybook/internal/observability/metrics"
	outboxservice "github.com/smallbiznis/staybook/internal/outbox/service"
	"github.com/smallbiznis/staybook/internal/payment/reconciler"
	"github.com/smallbiznis/staybook/internal/report"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const maxRelayBatches = 10

var ErrUnknownJob = errors.New("unknown_scheduler_job")

type outboxRelay interface {
	PublishNew(ctx context.Context) (int, error)
}

type expirySweeper interface {
	Sweep(ctx context.Context) (reconciler.SweepResult, error)
}

type revenueReport interface {
	RunDue(ctx context.Context) (report.Result, error)
}

type jobLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, key, token string) error
}

type Params struct {
	fx.In

	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Config  Config
	Relay   *outboxservice.Relay
	Sweeper *reconciler.Sweeper
	Report  *report.DailyRevenue
	Locker  *lock.Locker                 `optional:"true"`
	Metrics *obsmetrics.SchedulerMetrics `optional:"true"`
}

type Scheduler struct {
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	cfg     Config
	relay   outboxRelay
	sweeper expirySweeper
	report  revenueReport
	locker  jobLocker
	metrics *obsmetrics.SchedulerMetrics
}

type job struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
}

func New(p Params) *Scheduler {
	s := &Scheduler{
		log:     p.Log.Named("scheduler"),
		genID:   p.GenID,
		clock:   p.Clock,
		cfg:     p.Config.withDefaults(),
		relay:   p.Relay,
		sweeper: p.Sweeper,
		report:  p.Report,
		metrics: p.Metrics,
	}
	if p.Locker != nil {
		s.locker = p.Locker
	}
	if s.metrics == nil {
		s.metrics = obsmetrics.Scheduler()
	}
	return s
}

func (s *Scheduler) jobs() []job {
	return []job{
		{JobOutboxRelay, s.cfg.OutboxRelayInterval, s.OutboxRelayJob},
		{JobExpirySweep, s.cfg.ExpirySweepInterval, s.ExpirySweepJob},
		{JobDailyRevenue, s.cfg.ReportInterval, s.DailyRevenueJob},
	}
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name)
	if owner {
		s.logJobStart(ctx, run)
	}
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			s.logJobError(ctx, run, err)
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		s.logger(ctx).Warn("scheduler.job.timeout",
			zap.String("job", name),
			zap.String("run_id", run.runID),
			zap.Duration("timeout", timeout),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every enabled job once, in order.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var err error
	for _, j := range s.jobs() {
		if !s.isJobEnabled(j.name) {
			continue
		}
		err = errors.Join(err, s.runJob(ctx, j.name, s.cfg.JobTimeout, j.run))
	}
	return err
}

// RunJob runs a single job by name, ignoring EnabledJobs.
func (s *Scheduler) RunJob(ctx context.Context, name string) error {
	for _, j := range s.jobs() {
		if strings.EqualFold(j.name, name) {
			return s.runJob(ctx, j.name, s.cfg.JobTimeout, j.run)
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownJob, name)
}

// RunForever ticks every enabled job on its own interval until ctx is done.
// A job never overlaps with itself.
func (s *Scheduler) RunForever(ctx context.Context) {
	var wg sync.WaitGroup
	for _, j := range s.jobs() {
		if !s.isJobEnabled(j.name) {
			continue
		}
		wg.Add(1)
		go func(j job) {
			defer wg.Done()
			s.loop(ctx, j)
		}(j)
	}
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j job) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	nextRun := time.Now()

	for {
		if lag := time.Since(nextRun); lag > 0 {
			s.metrics.ObserveRunLoopLag(lag)
		}
		if err := s.runJob(ctx, j.name, s.cfg.JobTimeout, j.run); err != nil {
			s.log.Warn("scheduler.run.failed", zap.String("job", j.name), zap.Error(err))
		}
		nextRun = time.Now().Add(j.interval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// OutboxRelayJob drains publishable outbox events in batches.
func (s *Scheduler) OutboxRelayJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	for i := 0; i < maxRelayBatches; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		published, err := s.relay.PublishNew(ctx)
		if err != nil {
			return err
		}
		run.AddProcessed(published)
		s.metrics.AddBatchProcessed(JobOutboxRelay, "outbox_events", published)
		if published == 0 {
			return nil
		}
	}
	return nil
}

// ExpirySweepJob resolves bookings whose payment window elapsed. Only one
// replica sweeps at a time.
func (s *Scheduler) ExpirySweepJob(ctx context.Context) error {
	return s.withJobLock(ctx, JobExpirySweep, func(ctx context.Context) error {
		res, err := s.sweeper.Sweep(ctx)
		if err != nil {
			return err
		}
		resolved := res.Confirmed + res.Failed
		jobRunFromContext(ctx).AddProcessed(resolved)
		s.metrics.AddBatchProcessed(JobExpirySweep, "bookings", resolved)
		return nil
	})
}

func (s *Scheduler) DailyRevenueJob(ctx context.Context) error {
	res, err := s.report.RunDue(ctx)
	if err != nil {
		return err
	}
	if res.Sent {
		jobRunFromContext(ctx).AddProcessed(1)
		s.metrics.AddBatchProcessed(JobDailyRevenue, "reports", 1)
	}
	return nil
}

func (s *Scheduler) withJobLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	key := "scheduler:lock:" + name
	token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		return err
	}
	if !ok {
		s.logger(ctx).Debug("scheduler.job.skipped", zap.String("job", name), zap.String("reason", "locked"))
		return nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := s.locker.Release(releaseCtx, key, token); err != nil {
			s.logger(ctx).Warn("scheduler.lock.release_failed", zap.String("job", name), zap.Error(err))
		}
	}()
	return fn(ctx)
}
