package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter mounts the webhook, job, health and metrics routes.
func NewRouter(webhooks *WebhookController, batch *BatchController, health *HealthController, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/webhooks/checkouts", webhooks.Checkout)
	r.Post("/webhooks/orders", webhooks.Order)
	r.Post("/jobs/cart-check", batch.CartCheck)
	r.Get("/healthz", health.Healthz)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}
