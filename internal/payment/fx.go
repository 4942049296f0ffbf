package payment

import (
	"go.uber.org/fx"

	"github.com/bookline-app/bookline/internal/payment/repository"
	"github.com/bookline-app/bookline/internal/payment/service"
	"github.com/bookline-app/bookline/internal/payment/webhook"
)

var Module = fx.Module("payment",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(webhook.NewRouter),
)
