package apikey

import (
	"go.uber.org/fx"

	"github.com/stratobill/stratobill/internal/apikey/repository"
)

var Module = fx.Module("apikey",
	fx.Provide(repository.Provide),
)
