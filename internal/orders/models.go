package orders

import (
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
	"github.com/ariefcatur/go-storefront-orders/internal/money"
	"github.com/shopspring/decimal"
)

type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// Item is a frozen snapshot of a product at checkout time.
type Item struct {
	ProductID string            `json:"productId"`
	SKU       string            `json:"sku"`
	Name      catalog.Localized `json:"name"`
	Quantity  int               `json:"quantity"`
	Price     decimal.Decimal   `json:"price"`
}

func (i Item) Subtotal() decimal.Decimal { return money.Line(i.Price, i.Quantity) }

type Refund struct {
	ID        string          `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	CreatedAt time.Time       `json:"createdAt"`
}

type Shipping struct {
	TrackingNumber    string     `json:"trackingNumber,omitempty"`
	Carrier           string     `json:"carrier,omitempty"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery,omitempty"`
}

type Order struct {
	ID              string          `json:"id"`
	Number          string          `json:"orderNumber"`
	SessionID       string          `json:"sessionId"`
	IdempotencyKey  string          `json:"-"`
	Customer        Customer        `json:"customer"`
	ShippingAddress Address         `json:"shippingAddress"`
	Items           []Item          `json:"items"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Tax             decimal.Decimal `json:"tax"`
	ShippingFee     decimal.Decimal `json:"shippingFee"`
	Discount        decimal.Decimal `json:"discount"`
	Total           decimal.Decimal `json:"total"`
	Status          Status          `json:"orderStatus"`
	PaymentStatus   PaymentStatus   `json:"paymentStatus"`
	PaymentMethod   string          `json:"paymentMethod"`
	PaymentIntentID string          `json:"paymentIntentId,omitempty"`
	Shipping        Shipping        `json:"shipping"`
	Refunds         []Refund        `json:"refunds,omitempty"`
	Language        string          `json:"language"`
	Notes           string          `json:"notes,omitempty"`
	PaidAt          *time.Time      `json:"paidAt,omitempty"`
	CancelledAt     *time.Time      `json:"cancelledAt,omitempty"`
	ShippedAt       *time.Time      `json:"shippedAt,omitempty"`
	DeliveredAt     *time.Time      `json:"deliveredAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Lines is the stock reserved for the order, derived from its frozen items.
func (o *Order) Lines() []inventory.Line {
	out := make([]inventory.Line, 0, len(o.Items))
	for _, it := range o.Items {
		out = append(out, inventory.Line{ProductID: it.ProductID, Qty: it.Quantity})
	}
	return out
}

func (o *Order) Refunded() decimal.Decimal {
	sum := decimal.Zero
	for _, r := range o.Refunds {
		sum = sum.Add(r.Amount)
	}
	return sum
}

// Totals are the derived money fields of an order.
type Totals struct {
	Subtotal    decimal.Decimal
	Tax         decimal.Decimal
	ShippingFee decimal.Decimal
	Discount    decimal.Decimal
	Total       decimal.Decimal
}

// ComputeTotals prices items at their snapshot prices. Tax is rounded to two
// decimals before it is added.
func ComputeTotals(items []Item, taxRate, shippingFee, discount decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.Subtotal())
	}
	subtotal = money.Round(subtotal)
	tax := money.Round(subtotal.Mul(taxRate))
	return Totals{
		Subtotal:    subtotal,
		Tax:         tax,
		ShippingFee: shippingFee,
		Discount:    discount,
		Total:       subtotal.Add(tax).Add(shippingFee).Sub(discount),
	}
}

type ShippingUpdate struct {
	TrackingNumber    *string
	Carrier           *string
	EstimatedDelivery *time.Time
}

func (u ShippingUpdate) Empty() bool {
	return u.TrackingNumber == nil && u.Carrier == nil && u.EstimatedDelivery == nil
}

type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}
