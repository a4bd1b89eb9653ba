package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/productcache/internal/domain/model"
)

// ProductMirror defines the driven port for the short-TTL lookup layer in
// front of the ProductStore. It is a cache, never a source of truth.
type ProductMirror interface {
	// Get returns the mirrored product, or (nil, nil) on a miss or expiry.
	Get(ctx context.Context, key model.ProductKey) (*model.Product, error)
	Set(ctx context.Context, p model.Product, ttl time.Duration) error
	Delete(ctx context.Context, key model.ProductKey) error
	// Clear removes every mirrored product and returns how many were removed.
	Clear(ctx context.Context) (int, error)
}
