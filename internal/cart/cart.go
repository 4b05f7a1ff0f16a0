// Package cart keeps the pre-order basket of a browser session: line items
// with price snapshots and a server computed total, expiring after a sliding
// TTL.
package cart

import (
	"errors"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
	"github.com/ariefcatur/go-storefront-orders/internal/money"
	"github.com/shopspring/decimal"
)

var (
	// ErrDuplicateSession is returned by Repository.Insert when another
	// request created the session's cart first.
	ErrDuplicateSession = errors.New("cart already exists for session")
	// ErrStaleCart is returned by Repository.Save when the stored version
	// moved on since the cart was read.
	ErrStaleCart = errors.New("cart modified concurrently")
)

type Item struct {
	ID        string            `json:"id"`
	ProductID string            `json:"productId"`
	SKU       string            `json:"sku"`
	Name      catalog.Localized `json:"name"`
	Quantity  int               `json:"quantity"`
	Price     decimal.Decimal   `json:"price"`
	AddedAt   time.Time         `json:"addedAt"`
}

type Cart struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionId"`
	Items     []Item          `json:"items"`
	Total     decimal.Decimal `json:"total"`
	Version   int64           `json:"version"`
	ExpiresAt time.Time       `json:"expiresAt"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Recompute sets Total from the items. It is called before every write.
func (c *Cart) Recompute() {
	total := decimal.Zero
	for _, it := range c.Items {
		total = total.Add(money.Line(it.Price, it.Quantity))
	}
	c.Total = money.Round(total)
}

func (c *Cart) IsEmpty() bool { return len(c.Items) == 0 }

func (c *Cart) indexOfProduct(productID string) int {
	for i, it := range c.Items {
		if it.ProductID == productID {
			return i
		}
	}
	return -1
}

func (c *Cart) indexOfItem(itemID string) int {
	for i, it := range c.Items {
		if it.ID == itemID {
			return i
		}
	}
	return -1
}

func (c *Cart) clone() *Cart {
	cp := *c
	cp.Items = append([]Item(nil), c.Items...)
	return &cp
}
