package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
	"github.com/go-chi/chi/v5/middleware"
)

const maxBodyBytes = 1 << 20

// Business rejections a client can fix by changing its request are reported
// as 400 even though the service classifies them as conflicts.
var badRequestReasons = map[string]bool{
	apperr.ReasonEmptyCart:             true,
	apperr.ReasonOutOfStock:            true,
	apperr.ReasonPaymentAmountMismatch: true,
	apperr.ReasonPaymentNotCompleted:   true,
	apperr.ReasonProductInactive:       true,
	apperr.ReasonInvalidTransition:     true,
	apperr.ReasonInvalidSignature:      true,
}

type errorBody struct {
	Reason  string         `json:"reason"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(e *apperr.Error) int {
	if badRequestReasons[e.Reason] {
		return http.StatusBadRequest
	}
	switch e.Kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindUpstream:
		return http.StatusBadGateway
	case apperr.KindTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {"error": {...}}. Internal and upstream causes
// are logged but never sent to the client.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Internal("internal error", err)
	}
	code := statusFor(e)
	body := errorBody{Reason: e.Reason, Message: e.Message, Details: e.Details}
	if code >= http.StatusInternalServerError {
		loggerOr(logger).ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("reason", e.Reason),
			slog.String("error", err.Error()))
		body.Details = nil
	}
	writeJSON(w, code, map[string]errorBody{"error": body})
}

// decodeJSON reads a single JSON object from the request body.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.InvalidInput("request body is required")
		}
		return apperr.InvalidInput("invalid json").Wrap(err)
	}
	return nil
}
