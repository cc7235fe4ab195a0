package daemon

import (
	"go.uber.org/zap"

	"github.com/matheus3301/wpptriage/internal/analysis"
	"github.com/matheus3301/wpptriage/internal/config"
	"github.com/matheus3301/wpptriage/internal/greenapi"
	"github.com/matheus3301/wpptriage/internal/oracle"
)

// NewClientFactory builds Green API and OpenRouter clients from a configuration.
func NewClientFactory(logger *zap.Logger) analysis.ClientFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(cfg config.Config) analysis.Clients {
		return analysis.Clients{
			Provider: greenapi.New(greenapi.Config{
				BaseURL:    cfg.GreenAPI.URL,
				IDInstance: cfg.GreenAPI.IDInstance,
				APIToken:   cfg.GreenAPI.APIToken,
			}, logger.Named("greenapi")),
			Oracle: oracle.NewClient(oracle.Config{
				APIKey:  cfg.OpenRouter.APIKey,
				BaseURL: cfg.OpenRouter.BaseURL,
				Model:   cfg.OpenRouter.Model,
			}, logger.Named("oracle")),
		}
	}
}
