package cart

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/apperr"
	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const maxSaveAttempts = 3

var errUnchanged = errors.New("cart unchanged")

// ProductReader is the catalog lookup the cart needs.
type ProductReader interface {
	Get(ctx context.Context, id string) (*catalog.Product, error)
}

type Service struct {
	repo     Repository
	cache    Cache
	products ProductReader
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
	group    singleflight.Group
}

func NewService(repo Repository, cache Cache, products ProductReader, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		cache:    cache,
		products: products,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

// GetOrCreate returns the session's cart, creating an empty one when none
// exists. Concurrent first reads of a new session share one lookup, and a
// lost creation race falls back to reading the winner's cart.
func (s *Service) GetOrCreate(ctx context.Context, sessionID string) (*Cart, error) {
	if sessionID == "" {
		return nil, apperr.InvalidInput("sessionId is required")
	}
	v, err, _ := s.group.Do(sessionID, func() (any, error) {
		return s.getOrCreate(ctx, sessionID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Cart).clone(), nil
}

func (s *Service) getOrCreate(ctx context.Context, sessionID string) (*Cart, error) {
	if c := s.cached(ctx, sessionID); c != nil {
		return c, nil
	}

	c, err := s.repo.Get(ctx, sessionID)
	if err == nil {
		s.remember(ctx, c)
		return c, nil
	}
	if !errors.Is(err, apperr.ErrCartNotFound) {
		return nil, err
	}

	c = s.newCart(sessionID)
	if err := s.repo.Insert(ctx, c); err != nil {
		if !errors.Is(err, ErrDuplicateSession) {
			return nil, err
		}
		if c, err = s.repo.Get(ctx, sessionID); err != nil {
			return nil, err
		}
	}
	s.remember(ctx, c)
	return c, nil
}

// Load reads the cart straight from the repository, bypassing the cache.
func (s *Service) Load(ctx context.Context, sessionID string) (*Cart, error) {
	return s.repo.Get(ctx, sessionID)
}

// AddItem adds qty of a product, summing with any quantity already in the
// cart and checking the sum against current stock.
func (s *Service) AddItem(ctx context.Context, sessionID, productID string, qty int) (*Cart, error) {
	if sessionID == "" || productID == "" {
		return nil, apperr.InvalidInput("sessionId and productId are required")
	}
	if qty < 1 {
		return nil, apperr.InvalidInput("quantity must be at least 1")
	}
	p, err := s.activeProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, sessionID, true, func(c *Cart) error {
		i := c.indexOfProduct(productID)
		want := qty
		if i >= 0 {
			want += c.Items[i].Quantity
		}
		if p.Stock < want {
			return apperr.OutOfStock(p.ID, p.Stock, want)
		}
		if i >= 0 {
			c.Items[i].Quantity = want
			c.Items[i].Price = p.Price
			c.Items[i].Name = p.Name
			c.Items[i].SKU = p.SKU
			return nil
		}
		c.Items = append(c.Items, Item{
			ID:        uuid.NewString(),
			ProductID: p.ID,
			SKU:       p.SKU,
			Name:      p.Name,
			Quantity:  qty,
			Price:     p.Price,
			AddedAt:   s.now().UTC(),
		})
		return nil
	})
}

// UpdateItem overwrites the quantity of a product already in the cart and
// refreshes its price snapshot. Quantity 0 removes the line.
func (s *Service) UpdateItem(ctx context.Context, sessionID, productID string, qty int) (*Cart, error) {
	if sessionID == "" || productID == "" {
		return nil, apperr.InvalidInput("sessionId and productId are required")
	}
	if qty < 0 {
		return nil, apperr.InvalidInput("quantity must not be negative")
	}

	return s.mutate(ctx, sessionID, false, func(c *Cart) error {
		i := c.indexOfProduct(productID)
		if i < 0 {
			return apperr.ErrItemNotInCart.With("productId", productID)
		}
		if qty == 0 {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return nil
		}
		p, err := s.activeProduct(ctx, productID)
		if err != nil {
			return err
		}
		if p.Stock < qty {
			return apperr.OutOfStock(p.ID, p.Stock, qty)
		}
		c.Items[i].Quantity = qty
		c.Items[i].Price = p.Price
		c.Items[i].Name = p.Name
		c.Items[i].SKU = p.SKU
		return nil
	})
}

// RemoveItem drops a line by item id. Removing an absent item is a no-op.
func (s *Service) RemoveItem(ctx context.Context, sessionID, itemID string) (*Cart, error) {
	if sessionID == "" || itemID == "" {
		return nil, apperr.InvalidInput("sessionId and itemId are required")
	}
	return s.mutate(ctx, sessionID, false, func(c *Cart) error {
		i := c.indexOfItem(itemID)
		if i < 0 {
			return errUnchanged
		}
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
		return nil
	})
}

// Clear deletes the cart document entirely.
func (s *Service) Clear(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return apperr.InvalidInput("sessionId is required")
	}
	if err := s.repo.Delete(ctx, sessionID); err != nil {
		return err
	}
	s.invalidate(ctx, sessionID)
	return nil
}

// mutate applies fn to a fresh copy of the stored cart and saves it under
// optimistic concurrency, retrying when another writer got there first.
func (s *Service) mutate(ctx context.Context, sessionID string, create bool, fn func(*Cart) error) (*Cart, error) {
	for range maxSaveAttempts {
		c, err := s.repo.Get(ctx, sessionID)
		isNew := false
		switch {
		case errors.Is(err, apperr.ErrCartNotFound) && create:
			c, isNew = s.newCart(sessionID), true
		case err != nil:
			return nil, err
		}

		if err := fn(c); err != nil {
			if errors.Is(err, errUnchanged) {
				return c, nil
			}
			return nil, err
		}

		now := s.now().UTC()
		c.Recompute()
		c.UpdatedAt = now
		c.ExpiresAt = now.Add(s.ttl)

		if isNew {
			err = s.repo.Insert(ctx, c)
		} else {
			err = s.repo.Save(ctx, c)
		}
		if errors.Is(err, ErrDuplicateSession) || errors.Is(err, ErrStaleCart) {
			continue
		}
		if err != nil {
			return nil, err
		}
		s.invalidate(ctx, sessionID)
		return c, nil
	}
	return nil, apperr.Conflict(apperr.ReasonConcurrentUpdate, "cart is being modified concurrently, retry")
}

func (s *Service) activeProduct(ctx context.Context, productID string) (*catalog.Product, error) {
	p, err := s.products.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, apperr.ErrProductInactive.With("productId", productID)
	}
	return p, nil
}

func (s *Service) newCart(sessionID string) *Cart {
	now := s.now().UTC()
	c := &Cart{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Items:     []Item{},
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	c.Recompute()
	return c
}

func (s *Service) cached(ctx context.Context, sessionID string) *Cart {
	if s.cache == nil {
		return nil
	}
	c, err := s.cache.Get(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			s.logger.WarnContext(ctx, "cart cache read failed", slog.String("session_id", sessionID), slog.String("error", err.Error()))
		}
		return nil
	}
	return c
}

func (s *Service) remember(ctx context.Context, c *Cart) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, c); err != nil {
		s.logger.WarnContext(ctx, "cart cache write failed", slog.String("session_id", c.SessionID), slog.String("error", err.Error()))
	}
}

func (s *Service) invalidate(ctx context.Context, sessionID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, sessionID); err != nil {
		s.logger.WarnContext(ctx, "cart cache invalidation failed", slog.String("session_id", sessionID), slog.String("error", err.Error()))
	}
}
