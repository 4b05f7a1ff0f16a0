package httpx

import (
	"log/slog"
	"net/http"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/go-chi/chi/v5"
)

// OrdersHandler serves the customer facing order routes.
type OrdersHandler struct {
	Orders *orders.Service
	Logger *slog.Logger
}

type cancelReq struct {
	Email string `json:"email"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Get("/lookup", h.lookup)
		r.Get("/track/{orderId}", h.track)
		r.Get("/{orderId}", h.getOrder)
		r.Post("/{orderId}/cancel", h.cancel)
	})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.Get(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, localizeOrder(o, LangFrom(r.Context())))
}

func (h *OrdersHandler) track(w http.ResponseWriter, r *http.Request) {
	t, err := h.Orders.Track(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *OrdersHandler) lookup(w http.ResponseWriter, r *http.Request) {
	list, err := h.Orders.Lookup(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"orders": localizeOrders(list, LangFrom(r.Context())),
		"count":  len(list),
	})
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	o, err := h.Orders.CancelByCustomer(r.Context(), chi.URLParam(r, "orderId"), req.Email)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, localizeOrder(o, LangFrom(r.Context())))
}
