package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/ericfisherdev/productcache/internal/domain/model"
	"github.com/ericfisherdev/productcache/internal/domain/port/driven"
)

// identifierPattern matches normalized catalog identifiers.
var identifierPattern = regexp.MustCompile(`^[A-Z0-9]{10,13}$`)

// NormalizeIdentifier trims and upper-cases id and reports whether the result
// is a well-formed identifier.
func NormalizeIdentifier(id string) (string, bool) {
	id = strings.ToUpper(strings.TrimSpace(id))
	return id, identifierPattern.MatchString(id)
}

// normalizeIdentifiers normalizes ids, drops malformed ones and removes
// duplicates while keeping first-seen order.
func normalizeIdentifiers(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, raw := range ids {
		id, ok := NormalizeIdentifier(raw)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// ProductServiceConfig holds the settings ProductService reads.
type ProductServiceConfig struct {
	DefaultMarketplace string
	CacheEnabled       bool
}

// ProductService resolves products through the cache and the upstream API.
// Every upstream call goes through the client held by the provider, so
// credential changes apply to the next call.
type ProductService struct {
	provider           *ClientProvider
	cache              *CacheService
	defaultMarketplace string
	cacheEnabled       bool
	logger             *slog.Logger
}

// NewProductService creates a ProductService with all required dependencies.
func NewProductService(provider *ClientProvider, cache *CacheService, cfg ProductServiceConfig, logger *slog.Logger) *ProductService {
	mp := cfg.DefaultMarketplace
	if !model.IsValidMarketplace(mp) {
		mp = model.DefaultMarketplace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProductService{
		provider:           provider,
		cache:              cache,
		defaultMarketplace: model.LookupMarketplace(mp).Code,
		cacheEnabled:       cfg.CacheEnabled,
		logger:             logger,
	}
}

// Marketplace resolves code to a registry code. Empty selects the configured
// default; unknown codes fall back to the registry default.
func (s *ProductService) Marketplace(code string) string {
	if strings.TrimSpace(code) == "" {
		return s.defaultMarketplace
	}
	return model.LookupMarketplace(code).Code
}

// Search runs a keyword search and persists every valid product returned.
func (s *ProductService) Search(ctx context.Context, req driven.SearchRequest) (*driven.SearchResult, error) {
	req.Keywords = strings.TrimSpace(req.Keywords)
	if req.Keywords == "" {
		return nil, fmt.Errorf("search: keywords are required: %w", driven.ErrValidation)
	}
	req.Marketplace = s.Marketplace(req.Marketplace)

	client, err := s.provider.Require()
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	result, err := client.SearchItems(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", req.Keywords, err)
	}
	if result.Products == nil {
		result.Products = []model.Product{}
	}

	for _, p := range result.Products {
		if err := s.cache.Save(ctx, p); err != nil {
			s.logger.Warn("failed to cache search result", "key", p.Key().String(), "error", err)
		}
	}

	return result, nil
}

// GetItems resolves identifiers in batches of at most driven.MaxBatchSize,
// one upstream call per batch at most. The result keeps the caller's order
// and omits identifiers that could not be resolved. Missing credentials
// degrade to whatever the cache holds and are reported only when nothing
// could be resolved; any other fetch failure is returned as-is.
func (s *ProductService) GetItems(ctx context.Context, identifiers []string, marketplace string, forceFresh bool) ([]model.Product, error) {
	if len(identifiers) == 0 {
		return nil, fmt.Errorf("get items: no identifiers: %w", driven.ErrValidation)
	}

	ids := normalizeIdentifiers(identifiers)
	if len(ids) == 0 {
		return nil, fmt.Errorf("get items: no well-formed identifiers: %w", driven.ErrValidation)
	}

	mp := s.Marketplace(marketplace)
	products := make([]model.Product, 0, len(ids))

	var credErr error
	for start := 0; start < len(ids); start += driven.MaxBatchSize {
		end := min(start+driven.MaxBatchSize, len(ids))

		batch, err := s.getBatch(ctx, ids[start:end], mp, forceFresh)
		if err != nil {
			if !errors.Is(err, driven.ErrCredentialsMissing) {
				return nil, err
			}
			credErr = err
			continue
		}
		products = append(products, batch...)
	}

	if len(products) == 0 && credErr != nil {
		return nil, credErr
	}
	return products, nil
}

// GetItem resolves a single identifier. It returns driven.ErrProductNotFound
// when the lookup succeeded but yielded nothing.
func (s *ProductService) GetItem(ctx context.Context, identifier, marketplace string, forceFresh bool) (*model.Product, error) {
	id, ok := NormalizeIdentifier(identifier)
	if !ok {
		return nil, fmt.Errorf("get item %q: malformed identifier: %w", identifier, driven.ErrValidation)
	}

	products, err := s.getBatch(ctx, []string{id}, s.Marketplace(marketplace), forceFresh)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, fmt.Errorf("get item %s: %w", id, driven.ErrProductNotFound)
	}
	return &products[0], nil
}

// getBatch resolves at most driven.MaxBatchSize identifiers of one
// marketplace with at most one upstream call:
//
//  1. normalize, dedupe and truncate the input
//  2. serve fresh cache entries unless forceFresh or caching is disabled
//  3. fetch the rest in a single request and persist what comes back
//
// When credentials are missing, the cached part is returned if there is
// one. Every other fetch failure is returned so callers can retry.
func (s *ProductService) getBatch(ctx context.Context, identifiers []string, marketplace string, forceFresh bool) ([]model.Product, error) {
	ids := normalizeIdentifiers(identifiers)
	if len(ids) > driven.MaxBatchSize {
		ids = ids[:driven.MaxBatchSize]
	}
	if len(ids) == 0 {
		return []model.Product{}, nil
	}

	found := make(map[string]model.Product, len(ids))
	var needs []string

	useCache := s.cacheEnabled && !forceFresh
	for _, id := range ids {
		if !useCache {
			needs = append(needs, id)
			continue
		}

		p, err := s.cache.Get(ctx, model.ProductKey{Identifier: id, Marketplace: marketplace})
		if err != nil {
			s.logger.Warn("cache lookup failed", "identifier", id, "marketplace", marketplace, "error", err)
			needs = append(needs, id)
			continue
		}
		// Manual products have no upstream source and never go stale.
		if p != nil && (p.IsManual || !s.cache.IsStale(*p)) {
			found[id] = *p
			continue
		}
		needs = append(needs, id)
	}

	if len(needs) > 0 {
		fetched, err := s.fetch(ctx, needs, marketplace)
		if err != nil {
			if len(found) > 0 && errors.Is(err, driven.ErrCredentialsMissing) {
				s.logger.Warn("serving partial result from cache",
					"marketplace", marketplace,
					"cached", len(found),
					"unresolved", len(needs),
					"error", err,
				)
				return ordered(ids, found), nil
			}
			return nil, err
		}

		for _, p := range fetched {
			if err := s.cache.Save(ctx, p); err != nil {
				s.logger.Warn("failed to cache product", "key", p.Key().String(), "error", err)
			}
			found[strings.ToUpper(p.Identifier)] = p
		}
	}

	return ordered(ids, found), nil
}

func (s *ProductService) fetch(ctx context.Context, ids []string, marketplace string) ([]model.Product, error) {
	client, err := s.provider.Require()
	if err != nil {
		return nil, fmt.Errorf("get items: %w", err)
	}

	products, err := client.GetItems(ctx, ids, marketplace)
	if err != nil {
		return nil, fmt.Errorf("get items %s: %w", marketplace, err)
	}
	return products, nil
}

// ordered returns the products of found in the order of ids, skipping
// identifiers that were not resolved.
func ordered(ids []string, found map[string]model.Product) []model.Product {
	out := make([]model.Product, 0, len(found))
	for _, id := range ids {
		if p, ok := found[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// SaveManual builds a manual product from attrs and stores it.
func (s *ProductService) SaveManual(ctx context.Context, attrs map[string]string) (*model.Product, error) {
	p, err := NewManualProduct(attrs, s.defaultMarketplace, s.cache.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.cache.Save(ctx, p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	Products []model.Product
	Total    int
	Pages    int
}

// Resolve executes a parsed query.
func (s *ProductService) Resolve(ctx context.Context, q Query) (*Resolution, error) {
	switch q := q.(type) {
	case QueryItem:
		p, err := s.GetItem(ctx, q.Identifier, q.Marketplace, q.ForceFresh)
		if err != nil {
			return nil, err
		}
		return &Resolution{Products: []model.Product{*p}, Total: 1, Pages: 1}, nil

	case QueryItems:
		products, err := s.GetItems(ctx, q.Identifiers, q.Marketplace, q.ForceFresh)
		if err != nil {
			return nil, err
		}
		return &Resolution{Products: products, Total: len(products), Pages: 1}, nil

	case QuerySearch:
		result, err := s.Search(ctx, q.Request)
		if err != nil {
			return nil, err
		}
		return &Resolution{Products: result.Products, Total: result.Total, Pages: result.Pages}, nil

	case QueryManual:
		products, err := s.cache.SearchManual(ctx, q.Search)
		if err != nil {
			return nil, err
		}
		return &Resolution{Products: products, Total: len(products), Pages: 1}, nil

	default:
		return nil, fmt.Errorf("resolve: unsupported query %T: %w", q, driven.ErrValidation)
	}
}
