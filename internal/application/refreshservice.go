package application

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/productcache/internal/domain/model"
	"github.com/ericfisherdev/productcache/internal/domain/port/driven"
	"github.com/ericfisherdev/productcache/internal/metrics"
)

// RefreshService re-fetches stale cache entries in the background.
type RefreshService struct {
	cache    *CacheService
	products *ProductService
	limit    int
	logger   *slog.Logger
}

// NewRefreshService creates a RefreshService that refreshes at most limit
// entries per run.
func NewRefreshService(cache *CacheService, products *ProductService, limit int, logger *slog.Logger) *RefreshService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshService{
		cache:    cache,
		products: products,
		limit:    limit,
		logger:   logger,
	}
}

// RefreshReport summarizes one run.
type RefreshReport struct {
	RunID     string
	Stale     int
	Batches   int
	Refreshed int
	// Unreturned counts stale entries the upstream no longer returns.
	Unreturned int
}

// Run pulls stale keys, groups them by marketplace and refreshes each group
// in batches with forced upstream fetches. The first failing batch aborts the
// whole run; the next run starts over from the oldest stale entries.
func (s *RefreshService) Run(ctx context.Context) error {
	_, err := s.RunReport(ctx)
	return err
}

// RunReport is Run returning the run summary.
func (s *RefreshService) RunReport(ctx context.Context) (*RefreshReport, error) {
	start := time.Now()
	report := &RefreshReport{RunID: uuid.NewString()}

	keys, err := s.cache.ListStale(ctx, s.limit)
	if err != nil {
		metrics.RecordRefreshRun("error")
		return report, fmt.Errorf("refresh run %s: %w", report.RunID, err)
	}
	report.Stale = len(keys)

	if len(keys) == 0 {
		metrics.RecordRefreshRun("idle")
		return report, nil
	}

	for _, group := range groupByMarketplace(keys) {
		for startIdx := 0; startIdx < len(group.ids); startIdx += driven.MaxBatchSize {
			if err := ctx.Err(); err != nil {
				metrics.RecordRefreshRun("canceled")
				return report, fmt.Errorf("refresh run %s: %w", report.RunID, err)
			}

			end := min(startIdx+driven.MaxBatchSize, len(group.ids))
			batch := group.ids[startIdx:end]

			products, err := s.products.getBatch(ctx, batch, group.marketplace, true)
			report.Batches++
			if err != nil {
				metrics.RecordRefreshRun("aborted")
				return report, fmt.Errorf("refresh run %s: %s batch %d: %w", report.RunID, group.marketplace, report.Batches, err)
			}
			report.Refreshed += len(products)

			if missing := unreturned(batch, group.marketplace, products); len(missing) > 0 {
				report.Unreturned += len(missing)
				if err := s.cache.MarkRefreshAttempted(ctx, missing); err != nil {
					s.logger.Warn("failed to record refresh attempt", "run_id", report.RunID, "error", err)
				}
			}
		}
	}

	metrics.RecordRefreshRun("ok")
	s.logger.Info("refresh run complete",
		"run_id", report.RunID,
		"stale", report.Stale,
		"batches", report.Batches,
		"refreshed", report.Refreshed,
		"unreturned", report.Unreturned,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return report, nil
}

// unreturned lists the keys of ids that are missing from products.
func unreturned(ids []string, marketplace string, products []model.Product) []model.ProductKey {
	got := make(map[string]struct{}, len(products))
	for _, p := range products {
		got[strings.ToUpper(p.Identifier)] = struct{}{}
	}

	var missing []model.ProductKey
	for _, id := range ids {
		if _, ok := got[strings.ToUpper(id)]; !ok {
			missing = append(missing, model.ProductKey{Identifier: id, Marketplace: marketplace})
		}
	}
	return missing
}

type marketplaceGroup struct {
	marketplace string
	ids         []string
}

// groupByMarketplace groups keys by marketplace in sorted marketplace order,
// keeping the oldest-first order inside each group.
func groupByMarketplace(keys []model.ProductKey) []marketplaceGroup {
	byMP := make(map[string][]string)
	for _, k := range keys {
		byMP[k.Marketplace] = append(byMP[k.Marketplace], k.Identifier)
	}

	codes := make([]string, 0, len(byMP))
	for code := range byMP {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	groups := make([]marketplaceGroup, 0, len(codes))
	for _, code := range codes {
		groups = append(groups, marketplaceGroup{marketplace: code, ids: byMP[code]})
	}
	return groups
}
