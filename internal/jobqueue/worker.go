package jobqueue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/staybook/internal/clock"
	"github.com/smallbiznis/staybook/internal/observability/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Dispatcher runs one decoded job. Handlers live outside this package.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// ErrPermanent wraps failures that retrying cannot fix.
var ErrPermanent = errors.New("permanent_job_failure")

type WorkerConfig struct {
	Concurrency    int
	MaxAttempts    int
	PollWait       time.Duration
	PromoteEvery   time.Duration
	HeartbeatEvery time.Duration
	HeartbeatTTL   time.Duration
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	JobTimeout     time.Duration
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Concurrency:    4,
		MaxAttempts:    5,
		PollWait:       time.Second,
		PromoteEvery:   500 * time.Millisecond,
		HeartbeatEvery: 5 * time.Second,
		HeartbeatTTL:   45 * time.Second,
		BaseBackoff:    2 * time.Second,
		MaxBackoff:     time.Minute,
		JobTimeout:     30 * time.Second,
	}
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	defaults := DefaultWorkerConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = defaults.Concurrency
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.PollWait <= 0 {
		c.PollWait = defaults.PollWait
	}
	if c.PromoteEvery <= 0 {
		c.PromoteEvery = defaults.PromoteEvery
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = defaults.HeartbeatEvery
	}
	if c.HeartbeatTTL <= 0 {
		c.HeartbeatTTL = defaults.HeartbeatTTL
	}
	// Two missed beats are tolerated before a consumer counts as dead.
	if floor := 3 * c.HeartbeatEvery; c.HeartbeatTTL < floor {
		c.HeartbeatTTL = floor
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = defaults.BaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}

type Worker struct {
	consumer   string
	queue      *Queue
	dispatcher Dispatcher
	clock      clock.Clock
	log        *zap.Logger
	metrics    *metrics.SchedulerMetrics
	cfg        WorkerConfig
}

func NewWorker(queue *Queue, dispatcher Dispatcher, clk clock.Clock, log *zap.Logger, m *metrics.SchedulerMetrics, cfg WorkerConfig) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		consumer:   uuid.NewString(),
		queue:      queue,
		dispatcher: dispatcher,
		clock:      clk,
		log:        log.Named("jobqueue.worker"),
		metrics:    m,
		cfg:        cfg.withDefaults(),
	}
}

// Run consumes until ctx is cancelled. One goroutine promotes delayed
// retries, one keeps the heartbeat and requeues the work of dead consumers,
// Concurrency goroutines consume.
func (w *Worker) Run(ctx context.Context) error {
	log := w.log.With(zap.String("consumer", w.consumer))
	if err := w.queue.Heartbeat(ctx, w.consumer, w.cfg.HeartbeatTTL); err != nil {
		log.Warn("jobqueue.heartbeat.failed", zap.Error(err))
	}
	defer func() {
		n, err := w.queue.Retire(context.WithoutCancel(ctx), w.consumer)
		if err != nil {
			log.Warn("jobqueue.retire.failed", zap.Error(err))
			return
		}
		if n > 0 {
			log.Info("jobqueue.retire.requeued", zap.Int("count", n))
		}
	}()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(w.cfg.HeartbeatEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				w.beat(ctx, log)
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(w.cfg.PromoteEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if _, err := w.queue.PromoteDue(ctx, 100); err != nil && ctx.Err() == nil {
					w.log.Warn("jobqueue.promote.failed", zap.Error(err))
				}
			}
		}
	})

	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error {
			for ctx.Err() == nil {
				w.poll(ctx)
			}
			return nil
		})
	}

	return g.Wait()
}

func (w *Worker) beat(ctx context.Context, log *zap.Logger) {
	if err := w.queue.Heartbeat(ctx, w.consumer, w.cfg.HeartbeatTTL); err != nil {
		if ctx.Err() == nil {
			log.Warn("jobqueue.heartbeat.failed", zap.Error(err))
		}
		return
	}
	n, err := w.queue.RequeueOrphans(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("jobqueue.requeue.failed", zap.Error(err))
		}
		return
	}
	if n > 0 {
		log.Warn("jobqueue.requeue.orphans", zap.Int("count", n))
	}
}

func (w *Worker) poll(ctx context.Context) {
	env, err := w.queue.Dequeue(ctx, w.consumer, w.cfg.PollWait)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Warn("jobqueue.dequeue.failed", zap.Error(err))
			// Avoid a hot loop while Redis is down.
			select {
			case <-ctx.Done():
			case <-time.After(w.cfg.PollWait):
			}
		}
		return
	}
	if env == nil {
		return
	}
	// A dequeued envelope is handled even if shutdown begins meanwhile.
	w.Handle(context.WithoutCancel(ctx), *env)
}

// Handle runs one envelope and records its outcome: done, retried or dead.
func (w *Worker) Handle(ctx context.Context, env Envelope) {
	env.Attempt++
	log := w.log.With(
		zap.String("job_id", env.ID),
		zap.String("kind", string(env.Kind)),
		zap.Int("attempt", env.Attempt),
	)

	job, err := env.Decode()
	if err == nil {
		runCtx, cancel := context.WithTimeout(ctx, w.cfg.JobTimeout)
		err = w.dispatcher.Dispatch(runCtx, job)
		cancel()
	} else {
		err = errors.Join(ErrPermanent, err)
	}

	if err == nil {
		w.metrics.IncQueueHandled(string(env.Kind), "done")
		log.Debug("jobqueue.job.done")
		if ackErr := w.queue.Ack(ctx, w.consumer, env); ackErr != nil {
			log.Error("jobqueue.ack.failed", zap.Error(ackErr))
		}
		return
	}

	env.LastError = err.Error()
	if errors.Is(err, ErrPermanent) || env.Attempt >= w.cfg.MaxAttempts {
		w.metrics.IncQueueHandled(string(env.Kind), "dead")
		w.metrics.IncQueueDeadLetter(string(env.Kind))
		log.Error("jobqueue.job.dead", zap.Error(err))
		if dlErr := w.queue.DeadLetter(ctx, w.consumer, env); dlErr != nil {
			log.Error("jobqueue.dead_letter.failed", zap.Error(dlErr))
		}
		return
	}

	delay := w.backoff(env.Attempt)
	w.metrics.IncQueueHandled(string(env.Kind), "retry")
	log.Warn("jobqueue.job.retry", zap.Duration("delay", delay), zap.Error(err))
	if retryErr := w.queue.RetryAt(ctx, w.consumer, env, w.clock.Now().Add(delay)); retryErr != nil {
		log.Error("jobqueue.retry.failed", zap.Error(retryErr))
	}
}

func (w *Worker) backoff(attempt int) time.Duration {
	delay := w.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= w.cfg.MaxBackoff {
			return w.cfg.MaxBackoff
		}
	}
	return delay
}
