package httpx

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
	"github.com/stretchr/testify/assert"
)

func TestNegotiate(t *testing.T) {
	cases := []struct {
		query, accept, want string
	}{
		{"", "", LangEnglish},
		{"no", "", LangNorwegian},
		{"nb", "en-US", LangNorwegian},
		{"en", "nb-NO", LangEnglish},
		{"", "nb-NO,nb;q=0.9,en;q=0.8", LangNorwegian},
		{"", "nn", LangNorwegian},
		{"", "de-DE,de;q=0.9", LangEnglish},
		{"???", "no", LangNorwegian},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, negotiate(c.query, c.accept), "query=%q accept=%q", c.query, c.accept)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[int]*apperr.Error{
		http.StatusBadRequest:          apperr.ErrEmptyCart,
		http.StatusNotFound:            apperr.ErrOrderNotFound,
		http.StatusConflict:            apperr.Conflict(apperr.ReasonAlreadyPaid, "paid"),
		http.StatusUnauthorized:        apperr.Unauthorized("who"),
		http.StatusForbidden:           apperr.Forbidden(apperr.ReasonEmailMismatch, "no"),
		http.StatusBadGateway:          apperr.Upstream("stripe down", nil),
		http.StatusTooManyRequests:     apperr.New(apperr.KindTooManyRequests, apperr.ReasonRateLimited, "slow"),
		http.StatusInternalServerError: apperr.Internal("boom", nil),
	}
	for want, e := range cases {
		assert.Equal(t, want, statusFor(e), e.Reason)
	}
	assert.Equal(t, http.StatusBadRequest, statusFor(apperr.OutOfStock("p1", 1, 2)))
	assert.Equal(t, http.StatusBadRequest, statusFor(apperr.ErrProductInactive))
}

func TestWriteError_HidesInternalCause(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)

	writeError(rec, req, nil, errors.New("dial tcp 10.0.0.1:5432: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":{"reason":"INTERNAL","message":"internal error"}}`, rec.Body.String())
}
