package billing

import (
	"github.com/stratobill/stratobill/internal/billing/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("billing",
	fx.Provide(repository.Provide),
)
