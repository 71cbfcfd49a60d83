package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"sarathi/internal/auth"
	apperr "sarathi/internal/errors"
	"sarathi/internal/logger"
)

// Pinger reports whether a dependency is reachable.
type Pinger func(ctx context.Context) error

// Options wires the router.
type Options struct {
	Service   PickupService
	JWTSecret string
	Logger    *logger.Logger
	// Ready is consulted by /health/ready; nil means always ready.
	Ready Pinger
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Env is echoed in the X-Sarathi-Env header of health responses.
	Env string
}

func NewRouter(opts Options) http.Handler {
	logg := opts.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	svc := opts.Service

	r := chi.NewRouter()
	r.Use(
		Recoverer(logg),
		RequestID(logg),
		Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", HealthLive(opts.Env))
		r.Get("/ready", HealthReady(opts.Env, opts.Ready, logg))
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Authenticate(opts.JWTSecret, logg))

		r.Route("/citizen", func(r chi.Router) {
			r.Use(RequireKind(auth.KindCitizen, logg))
			r.Post("/orders", CreateOrder(svc, logg))
			r.Get("/orders", ListCitizenOrders(svc, logg))
			r.Get("/orders/{orderId}", GetOrder(svc, logg))
			r.Get("/orders/{orderId}/qr", OrderQR(svc, logg))
			r.Post("/orders/{orderId}/cancel", CancelOrder(svc, logg))
			r.Get("/stats", CitizenStats(svc, logg))
			r.Get("/notifications", CitizenNotifications(svc, logg))
		})

		r.Route("/collector", func(r chi.Router) {
			r.Use(RequireKind(auth.KindCollector, logg))
			r.Put("/location", UpdateLocation(svc, logg))
			r.Put("/availability", UpdateAvailability(svc, logg))
			r.Get("/tasks", CollectorTasks(svc, logg))
			r.Post("/tasks/{orderId}/accept", collectorStep(svc.AcceptOrder, logg))
			r.Post("/tasks/{orderId}/arrive", collectorStep(svc.MarkArrived, logg))
			r.Post("/tasks/{orderId}/verify", VerifyQR(svc, logg))
			r.Post("/tasks/{orderId}/complete", collectorStep(svc.CompleteCollection, logg))
			r.Get("/stats", CollectorStats(svc, logg))
			r.Get("/history", CollectorHistory(svc, logg))
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteError(r.Context(), logg, w, apperr.New(apperr.CodeNotFound, "route not found"))
	})
	return r
}

func HealthLive(env string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Sarathi-Env", env)
		WriteSuccess(w, map[string]string{"status": "live"})
	}
}

func HealthReady(env string, ready Pinger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Sarathi-Env", env)
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				WriteError(r.Context(), logg, w, apperr.Wrap(apperr.CodeRetrieval, err, "store unavailable"))
				return
			}
		}
		WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
