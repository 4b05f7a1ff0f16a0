package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
	"github.com/ariefcatur/go-storefront-orders/internal/auth"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/sequence"
	"github.com/go-chi/chi/v5"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// CounterSyncer repairs the order number counter.
type CounterSyncer interface {
	Sync(ctx context.Context, name string) (sequence.SyncResult, error)
}

// AdminHandler serves the staff routes. Every route requires a staff token;
// counter maintenance is reserved to superadmins.
type AdminHandler struct {
	Orders      *orders.Service
	Counter     CounterSyncer
	CounterName string
	Verifier    *auth.Verifier
	Logger      *slog.Logger
}

type statusReq struct {
	OrderStatus string `json:"orderStatus"`
}

type paymentStatusReq struct {
	PaymentStatus string `json:"paymentStatus"`
}

type shippingReq struct {
	TrackingNumber    *string    `json:"trackingNumber"`
	Carrier           *string    `json:"carrier"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery"`
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(RequireStaff(h.Verifier, h.Logger))
		r.Get("/orders", h.list)
		r.Patch("/orders/{orderId}/status", h.updateStatus)
		r.Patch("/orders/{orderId}/shipping", h.updateShipping)
		r.Patch("/orders/{orderId}/payment", h.updatePayment)
		r.With(RequireStaff(h.Verifier, h.Logger, auth.RoleSuperAdmin)).
			Post("/maintenance/order-counter/sync", h.syncCounter)
	})
}

func (h *AdminHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := orders.ListFilter{Limit: defaultListLimit}
	if s := q.Get("status"); s != "" {
		st, err := orders.ParseStatus(s)
		if err != nil {
			writeError(w, r, h.Logger, apperr.New(apperr.KindValidation, apperr.ReasonInvalidStatus, err.Error()))
			return
		}
		f.Status = st
	}
	var err error
	if f.Limit, err = intParam(q.Get("limit"), defaultListLimit); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	if f.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	if f.Limit == 0 {
		f.Limit = defaultListLimit
	}
	f.Limit = min(f.Limit, maxListLimit)

	list, err := h.Orders.List(r.Context(), staffFrom(r), f)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"orders": localizeOrders(list, LangFrom(r.Context())),
		"count":  len(list),
		"limit":  f.Limit,
		"offset": f.Offset,
	})
}

func (h *AdminHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	o, err := h.Orders.UpdateStatus(r.Context(), staffFrom(r), chi.URLParam(r, "orderId"), req.OrderStatus)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, localizeOrder(o, LangFrom(r.Context())))
}

func (h *AdminHandler) updatePayment(w http.ResponseWriter, r *http.Request) {
	var req paymentStatusReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	o, err := h.Orders.UpdatePaymentStatus(r.Context(), staffFrom(r), chi.URLParam(r, "orderId"), req.PaymentStatus)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, localizeOrder(o, LangFrom(r.Context())))
}

func (h *AdminHandler) updateShipping(w http.ResponseWriter, r *http.Request) {
	var req shippingReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	u := orders.ShippingUpdate{
		TrackingNumber:    trimmed(req.TrackingNumber),
		Carrier:           trimmed(req.Carrier),
		EstimatedDelivery: req.EstimatedDelivery,
	}
	o, err := h.Orders.UpdateShipping(r.Context(), staffFrom(r), chi.URLParam(r, "orderId"), u)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, localizeOrder(o, LangFrom(r.Context())))
}

func (h *AdminHandler) syncCounter(w http.ResponseWriter, r *http.Request) {
	res, err := h.Counter.Sync(r.Context(), h.CounterName)
	if err != nil {
		writeError(w, r, h.Logger, apperr.Internal("order counter sync failed", err))
		return
	}
	loggerOr(h.Logger).InfoContext(r.Context(), "order counter sync requested",
		slog.String("staff", staffFrom(r).ID), slog.Int64("current", res.Current))
	writeJSON(w, http.StatusOK, res)
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.InvalidInput("limit and offset must be non-negative integers")
	}
	return n, nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
