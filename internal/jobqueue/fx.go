package jobqueue

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/staybook/internal/clock"
	"github.com/smallbiznis/staybook/internal/config"
	"github.com/smallbiznis/staybook/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("jobqueue",
	fx.Provide(func(client redis.UniversalClient, clk clock.Clock) *Queue {
		return NewQueue(client, clk)
	}),
	fx.Provide(func(q *Queue) Enqueuer { return q }),
)

// WorkerModule consumes the queue; processes that only produce skip it.
var WorkerModule = fx.Module("jobqueue.worker",
	fx.Provide(ProvideWorker),
	fx.Invoke(RegisterWorker),
)

type WorkerParams struct {
	fx.In

	Queue      *Queue
	Dispatcher Dispatcher
	Clock      clock.Clock
	Log        *zap.Logger
	Config     config.Config
	Metrics    *metrics.SchedulerMetrics `optional:"true"`
}

func ProvideWorker(p WorkerParams) *Worker {
	cfg := DefaultWorkerConfig()
	cfg.Concurrency = p.Config.Scheduler.WorkerConcurrency
	return NewWorker(p.Queue, p.Dispatcher, p.Clock, p.Log, p.Metrics, cfg)
}

func RegisterWorker(lc fx.Lifecycle, cfg config.Config, w *Worker, log *zap.Logger) {
	if !cfg.RunsWorker() {
		return
	}

	var (
		cancel context.CancelFunc
		done   = make(chan struct{})
	)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go func() {
				defer close(done)
				if err := w.Run(ctx); err != nil {
					log.Error("jobqueue.worker.stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}
