package audit

import (
	"github.com/stratobill/stratobill/internal/audit/repository"
	"github.com/stratobill/stratobill/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
