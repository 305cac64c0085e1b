// Package storefront exposes the HTTP surface of the secure token
// subsystem: the public validation endpoint the token-only pages call and
// the privileged link-minting and lifecycle endpoints used by the chatbot
// and the ops tooling.
package storefront

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"chatcart/pkg/bus"
	"chatcart/pkg/render"
	"chatcart/services/tokens"
)

const (
	tokensIssuedTopic  = "chatcart.tokens.issued"
	tokensRevokedTopic = "chatcart.tokens.revoked"
	tokensCleanupTopic = "chatcart.tokens.cleanup"
)

// Config controls runtime behaviour for the API handlers.
type Config struct {
	// LinkBaseURL prefixes the storefront URLs embedded in WhatsApp
	// messages, e.g. https://shop.example.com.
	LinkBaseURL string
	// DefaultTTL is applied when a mint request carries no ttl.
	DefaultTTL string
}

// Store holds external dependencies required by the API layer. DB may be nil
// when the token service runs on an in-memory store; Bus may be nil when
// eventing is disabled.
type Store struct {
	DB  *pgxpool.Pool
	Bus *bus.Bus
}

// API wires the token service, dependencies, and configuration for HTTP
// handlers.
type API struct {
	store  *Store
	tokens *tokens.Service
	config Config
	render *render.Engine
	logger zerolog.Logger
}

// New initialises the API layer with sane defaults applied to the provided
// configuration.
func New(store *Store, svc *tokens.Service, cfg Config, logger zerolog.Logger) (*API, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if svc == nil {
		return nil, errors.New("token service is required")
	}
	if cfg.LinkBaseURL == "" {
		return nil, errors.New("link base url is required")
	}
	if cfg.DefaultTTL == "" {
		cfg.DefaultTTL = "1h"
	}

	engine, err := render.New()
	if err != nil {
		return nil, err
	}

	return &API{
		store:  store,
		tokens: svc,
		config: cfg,
		render: engine,
		logger: logger,
	}, nil
}

// publishJSON fires a lifecycle event without blocking the request path.
// Event payloads carry identifiers only, never token values.
func (a *API) publishJSON(ctx context.Context, subject string, payload map[string]any) {
	if a.store.Bus == nil || subject == "" {
		return
	}
	if err := a.store.Bus.Publish(ctx, subject, payload); err != nil {
		a.logger.Warn().Err(err).Str("subject", subject).Msg("publish event")
	}
}
