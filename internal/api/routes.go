package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all routes.
func SetupRoutes(h *Handlers, hc *HealthChecker, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", hc.HandleHealth)
	r.Get("/health/ready", hc.HandleReadiness)

	// Provider callbacks are server-to-server and skip CORS.
	r.Post("/webhook/sendgrid", h.HandleSendGridWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))

		r.Post("/contacts", h.HandleSaveContact)
		r.Post("/contacts/{id}/welcome", h.HandleSendWelcome)
		r.Get("/contacts/{id}/emails", h.HandleContactEmails)

		r.Get("/followups/stats", h.HandleFollowUpStats)
		r.Post("/followups/run", h.HandleRunFollowUps)
		r.Get("/followups/scheduler", h.HandleSchedulerStatus)
	})

	return r
}
