package license

import (
	"go.uber.org/fx"

	"github.com/stratobill/stratobill/internal/license/service"
)

var Module = fx.Module("license.service",
	fx.Provide(service.NewService),
)
