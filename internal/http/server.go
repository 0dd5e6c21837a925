package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	Router *chi.Mux
}

// Limits bounds concurrent request processing.
type Limits struct {
	MaxConcurrent  int
	MaxBacklog     int
	BacklogTimeout time.Duration
}

// NewServer wires the routes. stream may be nil to disable the audit feed.
func NewServer(handler *Handler, stream http.HandlerFunc, limits Limits) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if stream != nil {
		r.Get("/audit/stream", stream)
	}

	r.Group(func(r chi.Router) {
		if limits.MaxConcurrent > 0 {
			r.Use(middleware.ThrottleBacklog(limits.MaxConcurrent, limits.MaxBacklog, limits.BacklogTimeout))
		}

		r.Route("/webhook", func(r chi.Router) {
			r.Post("/payment", handler.PaymentWebhook)
			r.Post("/retry", handler.RetryFailed)
			r.Get("/stats", handler.Stats)
		})
		r.Route("/orders/{orderId}", func(r chi.Router) {
			r.Get("/", handler.GetOrder)
			r.Get("/payments", handler.GetOrderPayments)
		})
		r.Route("/payments/{paymentId}", func(r chi.Router) {
			r.Get("/", handler.GetPayment)
			r.Get("/audit-logs", handler.GetPaymentAuditLogs)
		})
	})

	return &Server{Router: r}
}
