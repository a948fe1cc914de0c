package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/stratobill/stratobill/internal/mailer"
	notificationdomain "github.com/stratobill/stratobill/internal/notification/domain"
	"github.com/stratobill/stratobill/internal/queue"
)

// RegisterEmailHandler binds the queued email kind to the SMTP mailer.
// A malformed payload is dropped rather than retried; a send failure is
// returned so the queue applies its backoff.
func RegisterEmailHandler(worker *queue.Worker, send mailer.Mailer, log *zap.Logger) {
	log = log.Named("notification.email")
	worker.Register(JobKindEmail, func(ctx context.Context, payload []byte) error {
		var job notificationdomain.EmailJob
		if err := json.Unmarshal(payload, &job); err != nil {
			log.Error("unparseable email job", zap.Error(err))
			return nil
		}
		if job.CustomerEmail == "" {
			log.Warn("email job without recipient", zap.String("kind", job.Kind))
			return nil
		}
		return send.Send(ctx, job.CustomerEmail, job.Subject, job.Body)
	})
}
