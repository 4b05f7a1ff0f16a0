// Package testutil provides in-memory versions of the stores and external
// collaborators so services and handlers can be tested without containers.
// They keep the conditional semantics of the real stores.
package testutil

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
	"github.com/ariefcatur/go-storefront-orders/internal/cart"
	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
	"github.com/ariefcatur/go-storefront-orders/internal/inventory"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/shopspring/decimal"
)

// Memory is the shared state behind the in-memory stores. One mutex guards
// everything so order cancellation and stock release stay atomic.
type Memory struct {
	mu       sync.Mutex
	products map[string]*catalog.Product
	counters map[string]int64
	orders   map[string]*orders.Order
	carts    map[string]*cart.Cart
	created  []string

	Products *Products
	Counters *Counters
	Orders   *Orders
	Carts    *Carts

	Now func() time.Time
}

func NewMemory() *Memory {
	m := &Memory{
		products: make(map[string]*catalog.Product),
		counters: make(map[string]int64),
		orders:   make(map[string]*orders.Order),
		carts:    make(map[string]*cart.Cart),
		Now:      time.Now,
	}
	m.Products = &Products{m: m}
	m.Counters = &Counters{m: m}
	m.Orders = &Orders{m: m}
	m.Carts = &Carts{m: m}
	return m
}

// Product is shorthand for an active product with price and stock.
func Product(id, price string, stock int) catalog.Product {
	return catalog.Product{
		ID:       id,
		SKU:      "SKU-" + strings.ToUpper(id),
		Name:     catalog.Localized{EN: "Product " + id, NO: "Produkt " + id},
		Price:    decimal.RequireFromString(price),
		Stock:    stock,
		IsActive: true,
	}
}

// Products serves the catalog and inventory contracts.
type Products struct {
	m *Memory

	ReserveErr error
	ReleaseErr error
	releases   int
}

func (p *Products) Put(ps ...catalog.Product) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	for _, pr := range ps {
		cp := pr
		p.m.products[pr.ID] = &cp
	}
}

// Delete removes a product as if it vanished from the catalog.
func (p *Products) Delete(id string) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	delete(p.m.products, id)
}

func (p *Products) Get(_ context.Context, id string) (*catalog.Product, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	pr, ok := p.m.products[id]
	if !ok {
		return nil, apperr.ErrProductNotFound.With("productId", id)
	}
	cp := *pr
	return &cp, nil
}

func (p *Products) ListActive(_ context.Context) ([]catalog.Product, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	var out []catalog.Product
	for _, pr := range p.m.products {
		if pr.IsActive {
			out = append(out, *pr)
		}
	}
	slices.SortFunc(out, func(a, b catalog.Product) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// Stock returns the current stock and sales count of a product.
func (p *Products) Stock(id string) (stock, sales int) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	pr, ok := p.m.products[id]
	if !ok {
		return 0, 0
	}
	return pr.Stock, pr.SalesCount
}

// Releases counts successful Release calls.
func (p *Products) Releases() int {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	return p.releases
}

func (p *Products) Reserve(_ context.Context, lines []inventory.Line) ([]inventory.Level, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	if p.ReserveErr != nil {
		return nil, p.ReserveErr
	}
	return p.m.reserve(lines)
}

func (p *Products) Release(_ context.Context, lines []inventory.Line) error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	if p.ReleaseErr != nil {
		return p.ReleaseErr
	}
	if err := p.m.release(lines); err != nil {
		return err
	}
	p.releases++
	return nil
}

func (m *Memory) reserve(lines []inventory.Line) ([]inventory.Level, error) {
	merged, err := inventory.Merge(lines)
	if err != nil {
		return nil, err
	}
	for _, l := range merged {
		pr, ok := m.products[l.ProductID]
		switch {
		case !ok:
			return nil, apperr.ErrProductNotFound.With("productId", l.ProductID)
		case !pr.IsActive:
			return nil, apperr.ErrProductInactive.With("productId", l.ProductID)
		case pr.Stock < l.Qty:
			return nil, apperr.OutOfStock(l.ProductID, pr.Stock, l.Qty)
		}
	}
	levels := make([]inventory.Level, 0, len(merged))
	for _, l := range merged {
		pr := m.products[l.ProductID]
		pr.Stock -= l.Qty
		pr.SalesCount += l.Qty
		levels = append(levels, inventory.Level{ProductID: l.ProductID, Remaining: pr.Stock})
	}
	return levels, nil
}

func (m *Memory) release(lines []inventory.Line) error {
	merged, err := inventory.Merge(lines)
	if err != nil {
		return err
	}
	for _, l := range merged {
		if _, ok := m.products[l.ProductID]; !ok {
			return fmt.Errorf("release %s: product missing", l.ProductID)
		}
	}
	for _, l := range merged {
		pr := m.products[l.ProductID]
		pr.Stock += l.Qty
		pr.SalesCount = max(pr.SalesCount-l.Qty, 0)
	}
	return nil
}

// Counters serves the sequence allocator contract.
type Counters struct {
	m *Memory

	NextErr error
}

func (c *Counters) Next(_ context.Context, name string) (int64, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if c.NextErr != nil {
		return 0, c.NextErr
	}
	c.m.counters[name]++
	return c.m.counters[name], nil
}

func (c *Counters) Set(name string, v int64) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	c.m.counters[name] = v
}

// Carts is a cart.Repository with the same version check as the Mongo one.
type Carts struct {
	m *Memory

	SaveErr error
}

func (c *Carts) Get(_ context.Context, sessionID string) (*cart.Cart, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	ct, ok := c.m.carts[sessionID]
	if !ok {
		return nil, apperr.ErrCartNotFound
	}
	return copyCart(ct), nil
}

func (c *Carts) Insert(_ context.Context, ct *cart.Cart) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if _, ok := c.m.carts[ct.SessionID]; ok {
		return cart.ErrDuplicateSession
	}
	c.m.carts[ct.SessionID] = copyCart(ct)
	return nil
}

func (c *Carts) Save(_ context.Context, ct *cart.Cart) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if c.SaveErr != nil {
		return c.SaveErr
	}
	cur, ok := c.m.carts[ct.SessionID]
	if !ok || cur.Version != ct.Version {
		return cart.ErrStaleCart
	}
	ct.Version++
	c.m.carts[ct.SessionID] = copyCart(ct)
	return nil
}

func (c *Carts) Delete(_ context.Context, sessionID string) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	delete(c.m.carts, sessionID)
	return nil
}

// Exists reports whether the session currently has a stored cart.
func (c *Carts) Exists(sessionID string) bool {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	_, ok := c.m.carts[sessionID]
	return ok
}

func copyCart(c *cart.Cart) *cart.Cart {
	cp := *c
	cp.Items = append([]cart.Item(nil), c.Items...)
	return &cp
}
