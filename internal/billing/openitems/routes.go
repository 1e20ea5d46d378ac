package openitems

import (
	"github.com/go-chi/chi/v5"
)

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/{id}", h.Show)
	r.Get("/{id}/payments", h.ListPayments)
	r.Post("/{id}/payments", h.AddPayment)
	r.Delete("/payments/{paymentID}", h.DeletePayment)
	r.Post("/{id}/dunning", h.Dunning)
}
