package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/upeohq/staffdesk/internal/config"
	"github.com/upeohq/staffdesk/internal/middleware"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, webhookCfg config.Webhook) {
	// Provider webhooks sit outside bearer auth; they carry their own
	// HMAC signature instead.
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.With(middleware.WebhookHMAC(webhookCfg.EmailSecret, "X-Webhook-Signature")).
			Post("/email", h.HandleEmailWebhook)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Signup requests
		r.Get("/requests", h.ListRequests)
		r.Post("/requests", h.CreateRequest)
		r.Post("/requests/bulk", h.BulkCreateRequests)
		r.Post("/requests/approve", h.ApproveRequests)
		r.Delete("/requests/{id}", h.RejectRequest)

		// Provisioning
		r.Get("/provision/status", h.ProvisionStatus)

		// Email logs
		r.Get("/email-logs", h.ListEmailLogs)
		r.Get("/email-logs/status", h.EmailStatus)

		// M-Pesa
		r.Post("/mpesa/status", h.CheckTransactionStatus)
	})
}
