package observability

import (
	"strings"

	"github.com/bookline-app/bookline/internal/config"
)

// Config holds the observability settings derived from application config.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	OTelEnabled      bool
	ExporterEndpoint string
	ExporterProtocol string
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "bookline"
	}
	return Config{
		ServiceName:      serviceName,
		Environment:      strings.TrimSpace(cfg.Environment),
		Version:          strings.TrimSpace(cfg.AppVersion),
		OTelEnabled:      cfg.OTelEnabled,
		ExporterEndpoint: strings.TrimSpace(cfg.OTelExporterEndpoint),
		ExporterProtocol: strings.ToLower(strings.TrimSpace(cfg.OTelExporterProtocol)),
	}
}

func (c Config) Debug() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}
