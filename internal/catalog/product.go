// Package catalog is the read side of the product table: price, stock,
// active flag and localized display names.
package catalog

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Localized is a display string in the two supported languages.
type Localized struct {
	EN string `json:"en"`
	NO string `json:"no"`
}

// In returns the text for lang, falling back to English.
func (l Localized) In(lang string) string {
	if strings.EqualFold(lang, "no") && l.NO != "" {
		return l.NO
	}
	return l.EN
}

type Product struct {
	ID         string          `json:"id"`
	SKU        string          `json:"sku"`
	Name       Localized       `json:"name"`
	Price      decimal.Decimal `json:"price"`
	Stock      int             `json:"stock"`
	SalesCount int             `json:"salesCount"`
	IsActive   bool            `json:"isActive"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}
