// Package sweep periodically re-invokes pending and failed webhook
// events that remain below the retry ceiling.
package sweep

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/stratobill/stratobill/internal/observability/metrics"
	webhookdomain "github.com/stratobill/stratobill/internal/webhook/domain"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Repo       webhookdomain.Repository
	Dispatcher webhookdomain.Service
	Metrics    *metrics.PipelineMetrics `optional:"true"`
	Config     Config                   `optional:"true"`
}

type Worker struct {
	db         *gorm.DB
	log        *zap.Logger
	repo       webhookdomain.Repository
	dispatcher webhookdomain.Service
	metrics    *metrics.PipelineMetrics
	cfg        Config
}

func NewWorker(p Params) *Worker {
	return &Worker{
		db:         p.DB,
		log:        p.Log.Named("webhook.sweep"),
		repo:       p.Repo,
		dispatcher: p.Dispatcher,
		metrics:    p.Metrics,
		cfg:        p.Config.withDefaults(),
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := w.RunOnce(ctx); err != nil {
			w.log.Warn("webhook sweep run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) RunOnce(ctx context.Context) error {
	if w.db == nil || w.repo == nil || w.dispatcher == nil {
		return errors.New("sweep_worker_unavailable")
	}

	candidates, err := w.repo.FindRetryCandidates(ctx, w.db, w.cfg.BatchSize)
	if err != nil {
		return err
	}

	w.metrics.SetRetryBacklog(len(candidates))
	if len(candidates) == 0 {
		w.metrics.SetRetryBacklogOldest(0)
		return nil
	}
	w.metrics.SetRetryBacklogOldest(time.Since(candidates[0].ReceivedAt))

	for i := range candidates {
		row := candidates[i]
		if err := w.dispatcher.Reprocess(ctx, &row); err != nil {
			w.log.Warn("webhook reprocess failed",
				zap.String("stripe_event_id", row.StripeEventID),
				zap.Error(err),
			)
		}
	}
	return nil
}
