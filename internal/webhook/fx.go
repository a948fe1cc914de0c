package webhook

import (
	"github.com/stratobill/stratobill/internal/webhook/repository"
	"github.com/stratobill/stratobill/internal/webhook/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewStripeAdapter),
	fx.Provide(service.NewService),
)
