package httpx

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
	"github.com/ariefcatur/go-storefront-orders/internal/auth"
	"github.com/ariefcatur/go-storefront-orders/internal/payments"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const (
	HeaderStripeSignature = "Stripe-Signature"
	maxWebhookBytes       = 65536
)

type PaymentsHandler struct {
	Payments *payments.Service
	Verifier *auth.Verifier
	Limiter  *redisx.Limiter
	Logger   *slog.Logger
}

type createIntentReq struct {
	OrderID string           `json:"orderId"`
	Amount  *decimal.Decimal `json:"amount"`
}

type createIntentResp struct {
	PaymentIntentID string          `json:"paymentIntentId"`
	ClientSecret    string          `json:"clientSecret"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
}

type confirmReq struct {
	OrderID         string `json:"orderId"`
	PaymentIntentID string `json:"paymentIntentId"`
}

type refundReq struct {
	PaymentIntentID string           `json:"paymentIntentId"`
	Amount          *decimal.Decimal `json:"amount"`
	Reason          string           `json:"reason"`
}

// Register mounts the payment routes. The webhook is authenticated by its
// signature only and is exempt from rate limiting.
func (h *PaymentsHandler) Register(r chi.Router) {
	r.Route("/payments", func(r chi.Router) {
		r.Post("/webhook", h.webhook)
		r.Group(func(r chi.Router) {
			r.Use(RateLimit(h.Limiter, "payments", h.Logger))
			r.Post("/create-intent", h.createIntent)
			r.Post("/confirm", h.confirm)
			r.Get("/status/{paymentIntentId}", h.status)
			r.With(RequireStaff(h.Verifier, h.Logger)).Post("/refund", h.refund)
		})
	})
}

func (h *PaymentsHandler) createIntent(w http.ResponseWriter, r *http.Request) {
	var req createIntentReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	in, err := h.Payments.CreateIntent(r.Context(), req.OrderID, req.Amount)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, createIntentResp{
		PaymentIntentID: in.ID,
		ClientSecret:    in.ClientSecret,
		Amount:          in.Amount,
		Currency:        in.Currency,
		Status:          in.Status,
	})
}

func (h *PaymentsHandler) confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	o, err := h.Payments.Confirm(r.Context(), req.OrderID, req.PaymentIntentID)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, localizeOrder(o, LangFrom(r.Context())))
}

// webhook must see the body exactly as sent; the signature covers raw bytes.
func (h *PaymentsHandler) webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, h.Logger, apperr.InvalidInput("webhook payload too large"))
			return
		}
		writeError(w, r, h.Logger, apperr.InvalidInput("unreadable webhook payload").Wrap(err))
		return
	}
	if err := h.Payments.HandleWebhook(r.Context(), payload, r.Header.Get(HeaderStripeSignature)); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *PaymentsHandler) refund(w http.ResponseWriter, r *http.Request) {
	var req refundReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	o, rf, err := h.Payments.Refund(r.Context(), staffFrom(r), req.PaymentIntentID, req.Amount, req.Reason)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"refund": rf,
		"order":  localizeOrder(o, LangFrom(r.Context())),
	})
}

func (h *PaymentsHandler) status(w http.ResponseWriter, r *http.Request) {
	in, err := h.Payments.Status(r.Context(), chi.URLParam(r, "paymentIntentId"))
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}
