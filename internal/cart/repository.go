package cart

import "context"

// Repository is the durable cart store.
type Repository interface {
	// Get returns apperr.ErrCartNotFound when the session has no cart.
	Get(ctx context.Context, sessionID string) (*Cart, error)
	// Insert creates a cart, failing with ErrDuplicateSession on a race.
	Insert(ctx context.Context, c *Cart) error
	// Save replaces items, total and expiry when c.Version still matches the
	// stored version, then bumps it. Returns ErrStaleCart otherwise.
	Save(ctx context.Context, c *Cart) error
	// Delete removes the cart. Deleting a missing cart is not an error.
	Delete(ctx context.Context, sessionID string) error
}

// Cache is a best-effort read cache in front of the repository.
type Cache interface {
	Get(ctx context.Context, sessionID string) (*Cart, error)
	Set(ctx context.Context, c *Cart) error
	Delete(ctx context.Context, sessionID string) error
}
