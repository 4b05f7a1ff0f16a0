package httpx

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ariefcatur/go-storefront-orders/internal/cart"
	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type ProductLister interface {
	ListActive(ctx context.Context) ([]catalog.Product, error)
}

type CartHandler struct {
	Carts    *cart.Service
	Products ProductLister
	Logger   *slog.Logger
}

type cartItemReq struct {
	SessionID string `json:"sessionId"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (h *CartHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Route("/cart", func(r chi.Router) {
		r.Post("/add", h.add)
		r.Get("/{sessionId}", h.get)
		r.Put("/update", h.update)
		r.Delete("/remove/{sessionId}/{itemId}", h.remove)
		r.Delete("/clear/{sessionId}", h.clear)
	})
}

func (h *CartHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ps, err := h.Products.ListActive(r.Context())
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, localizeProducts(ps, LangFrom(r.Context())))
}

// add puts a product in the cart, starting a new session when the client
// has none yet.
func (h *CartHandler) add(w http.ResponseWriter, r *http.Request) {
	var req cartItemReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	c, err := h.Carts.AddItem(r.Context(), req.SessionID, req.ProductID, req.Quantity)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, localizeCart(c, LangFrom(r.Context())))
}

func (h *CartHandler) get(w http.ResponseWriter, r *http.Request) {
	c, err := h.Carts.GetOrCreate(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, localizeCart(c, LangFrom(r.Context())))
}

func (h *CartHandler) update(w http.ResponseWriter, r *http.Request) {
	var req cartItemReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	c, err := h.Carts.UpdateItem(r.Context(), req.SessionID, req.ProductID, req.Quantity)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, localizeCart(c, LangFrom(r.Context())))
}

func (h *CartHandler) remove(w http.ResponseWriter, r *http.Request) {
	c, err := h.Carts.RemoveItem(r.Context(), chi.URLParam(r, "sessionId"), chi.URLParam(r, "itemId"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, localizeCart(c, LangFrom(r.Context())))
}

func (h *CartHandler) clear(w http.ResponseWriter, r *http.Request) {
	if err := h.Carts.Clear(r.Context(), chi.URLParam(r, "sessionId")); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
