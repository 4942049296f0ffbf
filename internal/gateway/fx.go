package gateway

import (
	"github.com/bookline-app/bookline/internal/config"
	gatewaydomain "github.com/bookline-app/bookline/internal/gateway/domain"
	"github.com/bookline-app/bookline/internal/gateway/stripe"
	"go.uber.org/fx"
)

var Module = fx.Module("gateway",
	fx.Provide(func(cfg config.Config) gatewaydomain.Client {
		return stripe.NewClient(cfg.StripeSecretKey, cfg.StripeAPIBaseURL)
	}),
	fx.Provide(func(cfg config.Config) gatewaydomain.EventSource {
		return stripe.NewWebhookHandler(cfg.StripeWebhookSecret)
	}),
)
