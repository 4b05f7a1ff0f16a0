package httpx

import (
	"github.com/ariefcatur/go-storefront-orders/internal/cart"
	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/shopspring/decimal"
)

// Localized views replace the {en, no} name pair with the text for the
// request language.

type orderItemView struct {
	orders.Item
	Name     string          `json:"name"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

type orderView struct {
	*orders.Order
	Items []orderItemView `json:"items"`
}

func localizeOrder(o *orders.Order, lang string) orderView {
	v := orderView{Order: o, Items: make([]orderItemView, 0, len(o.Items))}
	for _, it := range o.Items {
		v.Items = append(v.Items, orderItemView{Item: it, Name: it.Name.In(lang), Subtotal: it.Subtotal()})
	}
	return v
}

func localizeOrders(list []orders.Order, lang string) []orderView {
	out := make([]orderView, 0, len(list))
	for i := range list {
		out = append(out, localizeOrder(&list[i], lang))
	}
	return out
}

type cartItemView struct {
	cart.Item
	Name string `json:"name"`
}

type cartView struct {
	*cart.Cart
	Items []cartItemView `json:"items"`
}

func localizeCart(c *cart.Cart, lang string) cartView {
	v := cartView{Cart: c, Items: make([]cartItemView, 0, len(c.Items))}
	for _, it := range c.Items {
		v.Items = append(v.Items, cartItemView{Item: it, Name: it.Name.In(lang)})
	}
	return v
}

type productView struct {
	catalog.Product
	Name string `json:"name"`
}

func localizeProducts(ps []catalog.Product, lang string) []productView {
	out := make([]productView, 0, len(ps))
	for _, p := range ps {
		out = append(out, productView{Product: p, Name: p.Name.In(lang)})
	}
	return out
}
