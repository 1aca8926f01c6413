package http

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/idempotency"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/rateLimit"
)

var (
	perCaller = rateLimit.Rule{Limit: 60, Period: time.Minute}
	perIP     = rateLimit.Rule{Limit: 300, Period: time.Minute}
)

func SetupRouter(h *Handlers, logger observability.Logger, auth *Authenticator, rl *rateLimit.RateLimiter, idemp *idempotency.Idempotency) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(auth.Middleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(rl, perCaller, perIP))

		r.Get("/v1/access", h.CheckAccess)
		r.Get("/v1/events", h.ListEvents)
		r.Get("/v1/events/{id}", h.GetEvent)
		r.Get("/v1/events/{id}/offerings", h.ListOfferings)
		r.Post("/v1/events/{id}/selection", h.UpdateSelection)
		r.With(RequireCallbackSecret(h.cfg.PaymentCallbackSecret)).Post("/v1/payments/callback", h.PaymentCallback)

		r.Group(func(r chi.Router) {
			r.Use(RequireRoles(h.roles))
			r.Get("/v1/roles/me", h.GetMyRole)
			r.Put("/v1/roles/me", h.SwitchRole)
			r.Get("/v1/transactions", h.ListMyTransactions)
			r.Get("/v1/transactions/{id}", h.GetTransaction)
		})

		r.With(RequireRoles(h.roles, domain.RoleCustomer, domain.RoleOrganizer), IdempotencyMiddleware(idemp, logger)).
			Post("/v1/events/{id}/checkout", h.Checkout)
		r.With(RequireRoles(h.roles, domain.RoleCustomer)).Get("/v1/dashboard/customer", h.CustomerDashboard)

		r.Group(func(r chi.Router) {
			r.Use(RequireRoles(h.roles, domain.RoleOrganizer))
			r.Post("/v1/events", h.CreateEvent)
			r.Put("/v1/events/{id}", h.UpdateEvent)
			r.Delete("/v1/events/{id}", h.DeleteEvent)
			r.Get("/v1/organizer/events", h.OrganizerEvents)
			r.Get("/v1/organizer/sales", h.OrganizerSales)
			r.Get("/v1/dashboard/organizer", h.OrganizerDashboard)
		})
	})

	return r
}
