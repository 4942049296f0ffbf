package company

import (
	"github.com/bookline-app/bookline/internal/company/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("company",
	fx.Provide(repository.Provide),
)
