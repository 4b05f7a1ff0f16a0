package cart

import (
	"context"
	"sync"

	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
)

type mockRepo struct {
	mu       sync.RWMutex
	carts    map[string]*Cart
	inserts  int
	staleFor int
	// beforeInsert runs before Insert checks for an existing cart.
	beforeInsert func()
}

func newMockRepo() *mockRepo {
	return &mockRepo{carts: make(map[string]*Cart)}
}

func (m *mockRepo) Get(_ context.Context, sessionID string) (*Cart, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.carts[sessionID]
	if !ok {
		return nil, apperr.ErrCartNotFound
	}
	return c.clone(), nil
}

func (m *mockRepo) Insert(_ context.Context, c *Cart) error {
	if m.beforeInsert != nil {
		m.beforeInsert()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	if _, ok := m.carts[c.SessionID]; ok {
		return ErrDuplicateSession
	}
	m.carts[c.SessionID] = c.clone()
	return nil
}

func (m *mockRepo) Save(_ context.Context, c *Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.carts[c.SessionID]
	if !ok || cur.Version != c.Version {
		return ErrStaleCart
	}
	if m.staleFor > 0 {
		m.staleFor--
		cur.Version++
		return ErrStaleCart
	}
	c.Version++
	m.carts[c.SessionID] = c.clone()
	return nil
}

func (m *mockRepo) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, sessionID)
	return nil
}

func (m *mockRepo) put(c *Cart) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[c.SessionID] = c.clone()
}

type mockProducts struct {
	mu       sync.RWMutex
	products map[string]catalog.Product
}

func newMockProducts(ps ...catalog.Product) *mockProducts {
	m := &mockProducts{products: make(map[string]catalog.Product)}
	for _, p := range ps {
		m.products[p.ID] = p
	}
	return m
}

func (m *mockProducts) Get(_ context.Context, id string) (*catalog.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return nil, apperr.ErrProductNotFound
	}
	return &p, nil
}

func (m *mockProducts) set(p catalog.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
}
