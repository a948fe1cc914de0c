package queue

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Handler processes one job payload. A returned error triggers the
// backoff/retry cycle up to MaxAttempts.
type Handler func(ctx context.Context, payload []byte) error

// Worker drains the pending list and dispatches jobs to registered
// handlers.
type Worker struct {
	queue    *Queue
	log      *zap.Logger
	handlers map[string]Handler
}

type WorkerParams struct {
	fx.In

	Queue *Queue
	Log   *zap.Logger
}

func NewWorker(p WorkerParams) *Worker {
	return &Worker{
		queue:    p.Queue,
		log:      p.Log.Named("queue.worker"),
		handlers: map[string]Handler{},
	}
}

// Register binds a handler to a job kind. Registration happens during
// startup wiring, before Run.
func (w *Worker) Register(kind string, handler Handler) {
	w.handlers[kind] = handler
}

// Run drains jobs until the context is canceled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.queue.promoteDue(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.log.Warn("delayed job promotion failed", zap.Error(err))
		}

		job, err := w.queue.pop(ctx, 2*time.Second)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.log.Warn("job pop failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if job == nil {
			continue
		}
		w.dispatch(ctx, *job)
	}
}

func (w *Worker) dispatch(ctx context.Context, job Job) {
	handler, ok := w.handlers[job.Kind]
	if !ok {
		w.log.Error("no handler for job kind",
			zap.String("job_id", job.ID),
			zap.String("kind", job.Kind),
		)
		return
	}

	if err := handler(ctx, job.Payload); err != nil {
		job.Attempts++
		if job.Attempts >= MaxAttempts {
			w.log.Error("job dropped after max attempts",
				zap.String("job_id", job.ID),
				zap.String("kind", job.Kind),
				zap.Int("attempts", job.Attempts),
				zap.Error(err),
			)
			return
		}
		w.log.Warn("job failed, scheduling retry",
			zap.String("job_id", job.ID),
			zap.String("kind", job.Kind),
			zap.Int("attempts", job.Attempts),
			zap.Duration("backoff", backoffDelay(job.Attempts)),
			zap.Error(err),
		)
		if retryErr := w.queue.retryLater(ctx, job); retryErr != nil {
			w.log.Error("retry scheduling failed",
				zap.String("job_id", job.ID),
				zap.Error(retryErr),
			)
		}
	}
}
