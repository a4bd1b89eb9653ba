// Package application contains use-case orchestration services.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericfisherdev/productcache/internal/domain/model"
	"github.com/ericfisherdev/productcache/internal/domain/port/driven"
	"github.com/ericfisherdev/productcache/internal/metrics"
	"github.com/ericfisherdev/productcache/internal/pkg/clock"
)

// CacheService layers the short-TTL mirror over the authoritative product
// store. Mirror failures are logged and never fail an operation.
type CacheService struct {
	store  driven.ProductStore
	mirror driven.ProductMirror
	maxAge time.Duration
	clock  clock.Clock
	logger *slog.Logger
}

// NewCacheService creates a CacheService. maxAge is both the staleness window
// and the mirror TTL. mirror may be nil to disable the mirror layer.
func NewCacheService(
	store driven.ProductStore,
	mirror driven.ProductMirror,
	maxAge time.Duration,
	clk clock.Clock,
	logger *slog.Logger,
) *CacheService {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheService{
		store:  store,
		mirror: mirror,
		maxAge: maxAge,
		clock:  clk,
		logger: logger,
	}
}

// IsStale reports whether p is older than the staleness window.
func (s *CacheService) IsStale(p model.Product) bool {
	return p.IsStale(s.clock.Now(), s.maxAge)
}

// Save validates p, stamps missing timestamps, upserts it and refreshes the
// mirror.
func (s *CacheService) Save(ctx context.Context, p model.Product) error {
	if !p.IsValid() {
		return fmt.Errorf("save product %s: %w", p.Key(), driven.ErrInvalidProduct)
	}

	now := s.clock.Now().UTC().Truncate(time.Second)
	if p.LastUpdated.IsZero() {
		p.LastUpdated = now
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.Clamp()

	if err := s.store.Upsert(ctx, p); err != nil {
		return fmt.Errorf("save product %s: %w", p.Key(), err)
	}

	s.mirrorSet(ctx, p)
	return nil
}

// Get returns the product for key, checking the mirror first and the store
// second. A store hit repopulates the mirror. Returns nil, nil when absent.
func (s *CacheService) Get(ctx context.Context, key model.ProductKey) (*model.Product, error) {
	if s.mirror != nil {
		p, err := s.mirror.Get(ctx, key)
		if err != nil {
			s.logger.Warn("mirror read failed", "key", key.String(), "error", err)
		} else if p != nil {
			metrics.RecordCacheLookup("mirror_hit")
			return p, nil
		}
	}

	p, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", key, err)
	}
	if p == nil {
		metrics.RecordCacheLookup("miss")
		return nil, nil
	}

	metrics.RecordCacheLookup("store_hit")
	s.mirrorSet(ctx, *p)
	return p, nil
}

// Delete removes the product from the store and the mirror.
func (s *CacheService) Delete(ctx context.Context, key model.ProductKey) error {
	if err := s.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete product %s: %w", key, err)
	}
	if s.mirror != nil {
		if err := s.mirror.Delete(ctx, key); err != nil {
			s.logger.Warn("mirror delete failed", "key", key.String(), "error", err)
		}
	}
	return nil
}

// ClearAll wipes the mirror and every stored product and returns the number
// of stored rows removed. It is not transactional: concurrent readers may see
// an empty store before the mirror is cleared.
func (s *CacheService) ClearAll(ctx context.Context) (int, error) {
	removed, err := s.store.DeleteAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("clear products: %w", err)
	}
	if s.mirror != nil {
		n, err := s.mirror.Clear(ctx)
		if err != nil {
			s.logger.Warn("mirror clear failed", "error", err)
		} else {
			s.logger.Debug("mirror cleared", "entries", n)
		}
	}
	return removed, nil
}

// ListStale returns up to limit keys whose last update falls outside the
// staleness window, oldest first.
func (s *CacheService) ListStale(ctx context.Context, limit int) ([]model.ProductKey, error) {
	cutoff := s.clock.Now().Add(-s.maxAge)
	keys, err := s.store.ListStale(ctx, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale: %w", err)
	}
	return keys, nil
}

// MarkRefreshAttempted records that a refresh asked the upstream for keys
// and got nothing back, so the next runs move on to other stale entries.
func (s *CacheService) MarkRefreshAttempted(ctx context.Context, keys []model.ProductKey) error {
	if err := s.store.MarkRefreshAttempted(ctx, keys, s.clock.Now()); err != nil {
		return fmt.Errorf("mark refresh attempted: %w", err)
	}
	return nil
}

// SearchManual returns manually-created products matching query.
func (s *CacheService) SearchManual(ctx context.Context, query string) ([]model.Product, error) {
	products, err := s.store.SearchManual(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search manual: %w", err)
	}
	return products, nil
}

func (s *CacheService) mirrorSet(ctx context.Context, p model.Product) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Set(ctx, p, s.maxAge); err != nil {
		s.logger.Warn("mirror write failed", "key", p.Key().String(), "error", err)
	}
}
