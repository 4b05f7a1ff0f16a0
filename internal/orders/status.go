package orders

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing: {StatusShipped: true, StatusCancelled: true},
	StatusShipped:    {StatusDelivered: true},
	StatusDelivered:  {},
	StatusCancelled:  {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// Cancellable reports whether stock may still be released for an order in s.
func (s Status) Cancellable() bool { return CanTransition(s, StatusCancelled) }

// ParseStatus accepts only the fixed set of order statuses.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := validNext[st]; !ok {
		return "", fmt.Errorf("unknown order status %q", s)
	}
	return st, nil
}

// ParsePaymentStatus accepts the payment states in any letter case.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	ps := PaymentStatus(strings.ToLower(strings.TrimSpace(s)))
	switch ps {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded:
		return ps, nil
	}
	return "", fmt.Errorf("unknown payment status %q", s)
}
