package httpx

import (
	"log/slog"
	"net/http"

	"github.com/ariefcatur/go-storefront-orders/internal/checkout"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"
)

type CheckoutHandler struct {
	Checkout *checkout.Service
	Limiter  *redisx.Limiter
	Logger   *slog.Logger
}

func (h *CheckoutHandler) Register(r chi.Router) {
	r.With(RateLimit(h.Limiter, "checkout", h.Logger)).Post("/checkout", h.checkout)
}

// checkout answers 201 for a new order and 200 when an earlier request with
// the same idempotency key already placed it.
func (h *CheckoutHandler) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkout.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	if key := r.Header.Get(HeaderIdempotencyKey); key != "" {
		req.IdempotencyKey = key
	}
	lang := LangFrom(r.Context())
	if req.Language == "" {
		req.Language = lang
	}

	res, err := h.Checkout.Checkout(r.Context(), req)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	code := http.StatusCreated
	if res.Replayed {
		w.Header().Set(HeaderReplayed, "true")
		code = http.StatusOK
	}
	writeJSON(w, code, localizeOrder(res.Order, lang))
}
