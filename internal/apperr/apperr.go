// Package apperr is the error taxonomy shared by every layer. Errors carry a
// kind (mapped to an HTTP status at the edge), a stable machine reason, a
// human message and optional details such as available vs requested stock.
package apperr

import (
	"errors"
	"fmt"
	"maps"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindUnauthorized
	KindForbidden
	KindUpstream
	KindTooManyRequests
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindUpstream:
		return "upstream"
	case KindTooManyRequests:
		return "too_many_requests"
	default:
		return "internal"
	}
}

// Stable reasons exposed to clients.
const (
	ReasonInvalidInput          = "INVALID_INPUT"
	ReasonEmptyCart             = "EMPTY_CART"
	ReasonCartNotFound          = "CART_NOT_FOUND"
	ReasonItemNotInCart         = "ITEM_NOT_IN_CART"
	ReasonProductNotFound       = "PRODUCT_NOT_FOUND"
	ReasonProductInactive       = "PRODUCT_INACTIVE"
	ReasonOutOfStock            = "OUT_OF_STOCK"
	ReasonPaymentAmountMismatch = "PAYMENT_AMOUNT_MISMATCH"
	ReasonPaymentNotCompleted   = "PAYMENT_NOT_COMPLETED"
	ReasonPaymentAlreadyUsed    = "PAYMENT_ALREADY_USED"
	ReasonPaymentNotFound       = "PAYMENT_NOT_FOUND"
	ReasonAlreadyPaid           = "ALREADY_PAID"
	ReasonNotRefundable         = "NOT_REFUNDABLE"
	ReasonOrderNotFound         = "ORDER_NOT_FOUND"
	ReasonOrderCancelled        = "ORDER_CANCELLED"
	ReasonInvalidStatus         = "INVALID_STATUS"
	ReasonInvalidTransition     = "INVALID_TRANSITION"
	ReasonConcurrentUpdate      = "CONCURRENT_UPDATE"
	ReasonCheckoutInProgress    = "CHECKOUT_IN_PROGRESS"
	ReasonIdempotencyReuse      = "IDEMPOTENCY_KEY_REUSED"
	ReasonEmailMismatch         = "EMAIL_MISMATCH"
	ReasonInvalidSignature      = "INVALID_SIGNATURE"
	ReasonUnauthorized          = "UNAUTHORIZED"
	ReasonForbidden             = "FORBIDDEN"
	ReasonUpstream              = "UPSTREAM_ERROR"
	ReasonRateLimited           = "RATE_LIMITED"
	ReasonInternal              = "INTERNAL"
)

type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same reason, so sentinels compare equal
// to copies enriched with details.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Reason != "" && t.Reason == e.Reason
}

// With returns a copy of e with one more detail attached.
func (e *Error) With(key string, value any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	maps.Copy(cp.Details, e.Details)
	cp.Details[key] = value
	return &cp
}

// Wrap returns a copy of e wrapping cause.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

func New(kind Kind, reason, msg string) *Error {
	return &Error{Kind: kind, Reason: reason, Message: msg}
}

func InvalidInput(msg string) *Error {
	return New(KindValidation, ReasonInvalidInput, msg)
}

func NotFound(reason, msg string) *Error {
	return New(KindNotFound, reason, msg)
}

func Conflict(reason, msg string) *Error {
	return New(KindConflict, reason, msg)
}

func Unauthorized(msg string) *Error {
	return New(KindUnauthorized, ReasonUnauthorized, msg)
}

func Forbidden(reason, msg string) *Error {
	return New(KindForbidden, reason, msg)
}

func Upstream(msg string, cause error) *Error {
	return &Error{Kind: KindUpstream, Reason: ReasonUpstream, Message: msg, Err: cause}
}

func Internal(msg string, cause error) *Error {
	return &Error{Kind: KindInternal, Reason: ReasonInternal, Message: msg, Err: cause}
}

func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reports the kind of err; unclassified errors are internal.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

var (
	ErrEmptyCart       = New(KindValidation, ReasonEmptyCart, "cart is empty")
	ErrCartNotFound    = NotFound(ReasonCartNotFound, "cart not found")
	ErrItemNotInCart   = NotFound(ReasonItemNotInCart, "item not in cart")
	ErrProductNotFound = NotFound(ReasonProductNotFound, "product not found")
	ErrProductInactive = Conflict(ReasonProductInactive, "product is not available")
	ErrOutOfStock      = Conflict(ReasonOutOfStock, "insufficient stock")
	ErrOrderNotFound   = NotFound(ReasonOrderNotFound, "order not found")
)

// OutOfStock builds the stock shortfall error with the figures clients need
// to retry with a smaller quantity.
func OutOfStock(productID string, available, requested int) *Error {
	e := *ErrOutOfStock
	e.Message = fmt.Sprintf("insufficient stock: available %d, requested %d", available, requested)
	return e.With("productId", productID).With("available", available).With("requested", requested)
}
