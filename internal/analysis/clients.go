package analysis

import (
	"context"

	"github.com/matheus3301/wpptriage/internal/classifier"
	"github.com/matheus3301/wpptriage/internal/config"
	"github.com/matheus3301/wpptriage/internal/ingest"
)

// Provider is the messaging provider surface a run needs.
type Provider interface {
	ingest.Source
	SendMessage(ctx context.Context, chatID, text string) (string, error)
}

// Clients are the external collaborators of one run.
type Clients struct {
	Provider Provider
	Oracle   classifier.Oracle
}

// ClientFactory builds clients for a configuration. It is used for
// per-request credential overrides and configuration updates.
type ClientFactory func(cfg config.Config) Clients
