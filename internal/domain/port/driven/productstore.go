package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/productcache/internal/domain/model"
)

// ProductStore defines the driven port for the authoritative product table.
// Rows are unique per (identifier, marketplace) and never expire on their own.
type ProductStore interface {
	// Upsert inserts or replaces the product keyed by identifier and
	// marketplace. The original created_at of an existing row is kept.
	Upsert(ctx context.Context, p model.Product) error

	// Get returns the stored product, or (nil, nil) if none exists.
	Get(ctx context.Context, key model.ProductKey) (*model.Product, error)

	// Delete removes the product. Deleting a missing product is not an error.
	Delete(ctx context.Context, key model.ProductKey) error

	// DeleteAll removes every product and returns the number of rows removed.
	DeleteAll(ctx context.Context) (int, error)

	// ListStale returns up to limit keys of upstream-sourced products whose
	// last update and last refresh attempt are both before cutoff, least
	// recently touched first.
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]model.ProductKey, error)

	// MarkRefreshAttempted records that the upstream was asked for keys at
	// at without returning them. Missing keys are ignored.
	MarkRefreshAttempted(ctx context.Context, keys []model.ProductKey, at time.Time) error

	// SearchManual returns manually-created products whose title, identifier
	// or brand contains query (case-insensitive), newest first. An empty
	// query matches every manual product.
	SearchManual(ctx context.Context, query string) ([]model.Product, error)
}
