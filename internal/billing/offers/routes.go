package offers

import (
	"github.com/go-chi/chi/v5"
)

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Show)
	r.Delete("/{id}", h.Delete)

	r.Post("/{id}/items", h.AddItem)
	r.Put("/items/{itemID}", h.UpdateItem)
	r.Delete("/items/{itemID}", h.DeleteItem)

	r.Post("/{id}/number", h.RegenerateNumber)
	r.Post("/{id}/finalize", h.Finalize)
	r.Post("/{id}/send", h.Send)
	r.Post("/{id}/accept", h.Accept)
	r.Post("/{id}/reject", h.Reject)
}
