package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"chatcart/pkg/bus"
	"chatcart/pkg/db"
	"chatcart/pkg/telemetry"
	"chatcart/services/storefront"
	"chatcart/services/storefront/internal/config"
	"chatcart/services/tokens"
)

const serviceName = "storefront-api"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	shutdownTracing, err := telemetry.Init(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("init telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	pool, err := db.Open(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	var eventBus *bus.Bus
	if cfg.NATSURL != "" {
		eventBus, err = bus.Connect(cfg.NATSURL, serviceName)
		if err != nil {
			log.Fatal().Err(err).Msg("connect nats")
		}
		defer eventBus.Close()
	}

	store, err := tokens.NewPostgresStore(pool)
	if err != nil {
		log.Fatal().Err(err).Msg("init token store")
	}

	opts := []tokens.Option{tokens.WithLogger(log.Logger)}
	if cfg.PayloadSealKey != "" {
		sealer, err := tokens.NewSealer(cfg.PayloadSealKey)
		if err != nil {
			log.Fatal().Err(err).Msg("init payload sealer")
		}
		opts = append(opts, tokens.WithSealer(sealer))
	}

	svc, err := tokens.NewService(store, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("init token service")
	}

	api, err := storefront.New(
		&storefront.Store{DB: pool, Bus: eventBus},
		svc,
		storefront.Config{LinkBaseURL: cfg.LinkBaseURL, DefaultTTL: cfg.DefaultTokenTTL},
		log.Logger,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("init api")
	}

	handler, err := api.Routes(storefront.RouterOptions{
		AllowedOrigins:    cfg.AllowedOrigins,
		RequestsPerMinute: cfg.RequestsPerMin,
		Middlewares: []func(http.Handler) http.Handler{
			telemetry.Middleware(serviceName, log.Logger),
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("build routes")
	}

	if cfg.CleanupInterval > 0 {
		go runJanitor(ctx, svc, cfg.CleanupInterval)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("starting storefront-api")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown server")
	}
}

// runJanitor sweeps expired records past the retention window until the
// context is cancelled.
func runJanitor(ctx context.Context, svc *tokens.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := svc.CleanupExpiredTokens(ctx)
			if err != nil {
				log.Error().Err(err).Msg("token cleanup")
				continue
			}
			if deleted > 0 {
				log.Info().Int64("deleted", deleted).Msg("token cleanup")
			}
		}
	}
}
