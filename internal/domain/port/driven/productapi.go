package driven

import (
	"context"

	"github.com/ericfisherdev/productcache/internal/domain/model"
)

// MaxBatchSize is the upstream limit of identifiers per GetItems call.
const MaxBatchSize = 10

// SearchRequest holds the parameters of a keyword search.
type SearchRequest struct {
	Keywords    string
	Marketplace string
	Page        int
	Category    string
	Sort        string
}

// SearchResult is one page of search results.
type SearchResult struct {
	Products []model.Product
	Total    int
	Pages    int
}

// ProductAPI defines the driven port for the upstream product catalog.
// Implementations sign and throttle every request; they do not retry.
type ProductAPI interface {
	SearchItems(ctx context.Context, req SearchRequest) (*SearchResult, error)
	// GetItems fetches up to MaxBatchSize identifiers in a single request.
	// Identifiers unknown upstream are absent from the result.
	GetItems(ctx context.Context, identifiers []string, marketplace string) ([]model.Product, error)
}
