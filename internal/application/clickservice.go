package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericfisherdev/productcache/internal/domain/model"
	"github.com/ericfisherdev/productcache/internal/domain/port/driven"
	"github.com/ericfisherdev/productcache/internal/pkg/clock"
)

// ClickService records outbound clicks and prunes them after the retention
// window.
type ClickService struct {
	store     driven.ClickStore
	retention time.Duration
	clock     clock.Clock
	logger    *slog.Logger
}

// NewClickService creates a ClickService.
func NewClickService(store driven.ClickStore, retention time.Duration, clk clock.Clock, logger *slog.Logger) *ClickService {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ClickService{store: store, retention: retention, clock: clk, logger: logger}
}

// Record validates and stores one click.
func (s *ClickService) Record(ctx context.Context, identifier, marketplace, referrer string) error {
	id, ok := NormalizeIdentifier(identifier)
	if !ok {
		return fmt.Errorf("record click %q: malformed identifier: %w", identifier, driven.ErrValidation)
	}

	click := model.Click{
		Identifier:  id,
		Marketplace: model.LookupMarketplace(marketplace).Code,
		Referrer:    referrer,
		ClickedAt:   s.clock.Now().UTC(),
	}
	if err := s.store.Record(ctx, click); err != nil {
		return fmt.Errorf("record click: %w", err)
	}
	return nil
}

// Prune deletes clicks older than the retention window.
func (s *ClickService) Prune(ctx context.Context) error {
	if s.retention <= 0 {
		return nil
	}

	cutoff := s.clock.Now().Add(-s.retention)
	n, err := s.store.PruneBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune clicks: %w", err)
	}
	s.logger.Info("clicks pruned", "removed", n, "cutoff", cutoff.Format(time.RFC3339))
	return nil
}
