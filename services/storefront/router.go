package storefront

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatcart/pkg/db"
)

// RouterOptions carries the cross-cutting knobs applied around the handlers.
type RouterOptions struct {
	AllowedOrigins []string
	// RequestsPerMinute caps per-IP traffic; zero disables the limiter.
	RequestsPerMinute int
	// Middlewares are appended after the built-in set, e.g. the telemetry
	// wrapper.
	Middlewares []func(http.Handler) http.Handler
}

// Routes constructs the chi router containing all API endpoints.
func (a *API) Routes(opts RouterOptions) (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	allowed := opts.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         int((10 * time.Minute).Seconds()),
	}))

	if opts.RequestsPerMinute > 0 {
		r.Use(httprate.Limit(opts.RequestsPerMinute, time.Minute))
	}

	for _, mw := range opts.Middlewares {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", a.handleReady)

	r.Method("GET", "/metrics", promhttp.Handler())

	// The public validation endpoint keeps its unversioned path: every
	// token-only storefront page posts here.
	r.Post("/validate-secure-token", a.handleValidateToken)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/links/{kind}", a.handleMintLink)
		r.Post("/tokens/revoke", a.handleRevokeToken)
		r.Get("/tokens/stats", a.handleTokenStats)
		r.Post("/tokens/cleanup", a.handleCleanup)
	})

	return r, nil
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.store.DB != nil {
		if err := db.Ping(r.Context(), a.store.DB); err != nil {
			respondError(w, http.StatusServiceUnavailable, errors.New("database unreachable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
