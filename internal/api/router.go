package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alecgard/pantry/internal/auth"
	"github.com/alecgard/pantry/internal/metering"
	"github.com/alecgard/pantry/internal/metrics"
	"github.com/alecgard/pantry/internal/quota"
	"github.com/alecgard/pantry/internal/ratelimit"
	"github.com/alecgard/pantry/internal/recipe"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger is a dependency checked by the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// EventQuerier reads recorded quota events.
type EventQuerier interface {
	GetSummary(ctx context.Context, q metering.Query) (*metering.Summary, error)
	ListEvents(ctx context.Context, q metering.Query) ([]*metering.Event, string, error)
}

// RouterDeps holds all dependencies for the API router. Recipes, Events,
// Limiter and Metrics are optional.
type RouterDeps struct {
	Tracker        *quota.Tracker
	Accounts       AccountCreator
	Recipes        *recipe.Service
	Events         EventQuerier
	Auth           *auth.Service
	Limiter        *ratelimit.Limiter
	Metrics        *metrics.Metrics
	Pingers        map[string]Pinger
	StoreTimeout   time.Duration
	MaxRequestSize int64
	AllowedOrigins []string
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(secureHeaders)
	r.Use(corsMiddleware(deps.AllowedOrigins))
	r.Use(slogRequestLogger)
	if deps.MaxRequestSize > 0 {
		r.Use(bodyLimit(deps.MaxRequestSize))
	}

	r.Get("/health", healthHandler(deps.Pingers))
	r.Get("/.well-known/pantry.json", WellKnownHandler)

	var httpMetrics HTTPMetrics
	if deps.Metrics != nil {
		httpMetrics = deps.Metrics
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{}))
	}

	accounts := newAccountsHandler(deps.Tracker, deps.Accounts)
	devices := newDevicesHandler(deps.Tracker)

	// Admin routes (require admin key).
	r.Route("/api/v1/admin", func(ar chi.Router) {
		ar.Use(metricsMiddleware(httpMetrics, "admin"))
		ar.Use(auth.AdminAuthMiddleware(deps.Auth))
		ar.Use(timeoutMiddleware(deps.StoreTimeout))

		if deps.Events != nil {
			events := newEventsHandler(deps.Events)
			ar.Get("/events", events.ListEvents)
			ar.Get("/events/summary", events.GetSummary)
		}
		if deps.Metrics != nil {
			ar.Get("/metrics", deps.Metrics.Handler())
		}
	})

	// Service-authed routes.
	r.Route("/api/v1", func(ar chi.Router) {
		ar.Use(metricsMiddleware(httpMetrics, "api"))
		ar.Use(auth.ServiceKeyMiddleware(deps.Auth))

		limit := func(key ratelimit.KeyFunc) func(http.Handler) http.Handler {
			if deps.Limiter == nil {
				return func(next http.Handler) http.Handler { return next }
			}
			var onReject []func()
			if deps.Metrics != nil {
				onReject = append(onReject, func() { deps.Metrics.IncRateLimitRejection("caller") })
			}
			return ratelimit.Middleware(deps.Limiter, key, onReject...)
		}
		timeout := timeoutMiddleware(deps.StoreTimeout)

		ar.With(timeout).Post("/accounts", accounts.CreateAccount)
		ar.Route("/accounts/{identity}", func(ir chi.Router) {
			ir.Use(timeout)
			ir.With(limit(urlParamKey("identity"))).Post("/requests", accounts.RecordRequest)
			ir.Get("/usage/weekly", accounts.GetWeeklyUsage)
			ir.Post("/test/reset", accounts.ResetTestAccount)
			ir.Post("/test/toggle-plan", accounts.TogglePlan)
		})
		ar.Route("/devices/{deviceID}", func(dr chi.Router) {
			dr.Use(timeout)
			dr.With(limit(urlParamKey("deviceID"))).Post("/requests", devices.RecordRequest)
			dr.Get("/usage/weekly", devices.GetWeeklyUsage)
		})

		if deps.Recipes != nil {
			recipes := newRecipesHandler(deps.Recipes)
			// The generator call outlives the store timeout, so it is not applied here.
			ar.With(limit(ratelimit.RemoteAddrKey)).Post("/recipes", recipes.Generate)
		}
	})

	return r
}

// urlParamKey keys the burst limiter by a chi URL parameter.
func urlParamKey(name string) ratelimit.KeyFunc {
	return func(r *http.Request) string {
		return name + ":" + chi.URLParam(r, name)
	}
}

func healthHandler(pingers map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		body := map[string]string{"status": "ok"}
		status := http.StatusOK
		for name, p := range pingers {
			if err := p.Ping(ctx); err != nil {
				slog.Warn("health check failed", "dependency", name, "error", err)
				body[name] = "unavailable"
				body["status"] = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			body[name] = "connected"
		}
		writeJSON(w, status, body)
	}
}

// slogRequestLogger is a simple structured logging middleware using slog.
func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"bytes", ww.BytesWritten(),
			"request_id", RequestIDFromContext(r.Context()),
		)
	})
}
