package extracharge

import (
	"go.uber.org/fx"

	"github.com/bookline-app/bookline/internal/extracharge/repository"
	"github.com/bookline-app/bookline/internal/extracharge/service"
)

var Module = fx.Module("extracharge",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
