package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/nkarpova/docrequest-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware портала заявок на документы.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/user/register", h.Register)
		r.Post("/user/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/requests", h.CreateRequest)
			r.Get("/requests", h.GetRequests)
			r.Get("/requests/active", h.GetActiveRequests)

			r.Post("/requests/{number}/payment", h.GeneratePayment)
			r.Get("/requests/{number}/payments", h.GetRequestPayments)
			r.Post("/payments/{reference}/confirm", h.ConfirmPayment)

			r.Post("/requests/{number}/advance", h.Advance)
			r.Post("/requests/{number}/ready", h.MarkReadyForClaim)
			r.Post("/requests/{number}/claim", h.ConfirmClaim)
			r.Post("/requests/{number}/release", h.Release)
			r.Post("/requests/{number}/reject", h.Reject)
			r.Post("/requests/{number}/cancel", h.Cancel)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
