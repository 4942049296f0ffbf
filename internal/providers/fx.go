package providers

import (
	"github.com/bookline-app/bookline/internal/config"
	"github.com/bookline-app/bookline/internal/providers/email"
	"github.com/bookline-app/bookline/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	fx.Provide(pdf.NewReceiptRenderer),
	fx.Provide(func() email.Directory { return email.UnconfiguredDirectory{} }),
	fx.Provide(func(cfg config.Config, directory email.Directory) email.Provider {
		if cfg.SMTPHost == "" {
			return &email.NoOpProvider{}
		}
		return email.NewSMTP(email.Config{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}, directory)
	}),
)
