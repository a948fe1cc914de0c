package notification

import (
	"go.uber.org/fx"

	"github.com/stratobill/stratobill/internal/notification/service"
)

var Module = fx.Module("notification.service",
	fx.Provide(service.NewService),
	fx.Invoke(service.RegisterEmailHandler),
)
