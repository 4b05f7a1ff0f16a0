package orders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
)

const (
	EventOrderPlaced        = "OrderPlaced"
	EventAdminNewOrder      = "AdminNewOrder"
	EventLowStock           = "LowStock"
	EventOrderCancelled     = "OrderCancelled"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventOrderShipped       = "OrderShipped"
	EventPaymentConfirmed   = "PaymentConfirmed"
	EventPaymentFailed      = "PaymentFailed"
	EventRefundIssued       = "RefundIssued"
	EventRefundRequired     = "RefundRequired"
)

const EnvelopeVersion = 1

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order number
	Payload       json.RawMessage `json:"payload"`
}

type OrderPayload struct {
	Order          Order   `json:"order"`
	PreviousStatus Status  `json:"previous_status,omitempty"`
	Refund         *Refund `json:"refund,omitempty"`
}

type LowStockPayload struct {
	ProductID string            `json:"product_id"`
	SKU       string            `json:"sku"`
	Name      catalog.Localized `json:"name"`
	Remaining int               `json:"remaining"`
	Threshold int               `json:"threshold"`
	OrderRef  string            `json:"order_ref"`
}

// Notifier hands events to the notification pipeline. Implementations must
// not block the caller; delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, eventType, key string, payload any) error
}

// PartitionKey keeps every event of one order on the same partition.
func PartitionKey(orderNumber string) []byte { return []byte(orderNumber) }
