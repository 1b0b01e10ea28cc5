package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tannaco/paygate/internal/http/payments"
	"github.com/tannaco/paygate/internal/http/webhooks"
)

func New(
	paymentsV1 *payments.Handler,
	gatewayWebhooks *webhooks.Handler,
) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/payments", func(r chi.Router) {
			r.Use(middleware.AllowContentType("application/json"))
			paymentsV1.Routes(r)
		})
	})

	// Webhooks sit outside /api/v1: the gateway posts raw JSON with its
	// own signature header and no content negotiation.
	router.Route("/webhooks", gatewayWebhooks.Routes)

	return router
}
