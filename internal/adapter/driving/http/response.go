package httphandler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ericfisherdev/productcache/internal/domain/model"
	"github.com/ericfisherdev/productcache/internal/domain/port/driven"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// statusForKind maps an error kind onto the HTTP status returned to callers.
func statusForKind(kind driven.ErrorKind) int {
	switch kind {
	case driven.KindValidation:
		return http.StatusBadRequest
	case driven.KindNotFound:
		return http.StatusNotFound
	case driven.KindCredentials:
		return http.StatusServiceUnavailable
	case driven.KindUpstream:
		return http.StatusBadGateway
	case driven.KindTransport:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ProductResponse is the JSON representation of a product.
type ProductResponse struct {
	Identifier        string   `json:"identifier"`
	Marketplace       string   `json:"marketplace"`
	Title             string   `json:"title"`
	URL               string   `json:"url"`
	ImageSmall        string   `json:"image_small"`
	ImageMedium       string   `json:"image_medium"`
	ImageLarge        string   `json:"image_large"`
	PriceDisplay      string   `json:"price_display"`
	PriceAmount       float64  `json:"price_amount"`
	PriceCurrency     string   `json:"price_currency"`
	ListPriceAmount   float64  `json:"list_price_amount"`
	ListPrice         string   `json:"list_price"`
	SavingsPercentage int      `json:"savings_percentage"`
	Rating            float64  `json:"rating"`
	ReviewCount       int      `json:"review_count"`
	IsPrime           bool     `json:"is_prime"`
	Availability      string   `json:"availability"`
	Brand             string   `json:"brand"`
	Description       string   `json:"description"`
	Features          []string `json:"features"`
	Category          string   `json:"category"`
	IsManual          bool     `json:"is_manual"`
	Badge             string   `json:"badge,omitempty"`
	ButtonText        string   `json:"button_text,omitempty"`
	LastUpdated       string   `json:"last_updated"`
	CreatedAt         string   `json:"created_at"`
}

// ProductListResponse wraps a page of products.
type ProductListResponse struct {
	Products []ProductResponse `json:"products"`
	Total    int               `json:"total"`
	Pages    int               `json:"pages"`
}

// CacheEntryResponse is a cached product plus its staleness.
type CacheEntryResponse struct {
	Product ProductResponse `json:"product"`
	Stale   bool            `json:"stale"`
}

// ProductKeyResponse identifies a cached product.
type ProductKeyResponse struct {
	Identifier  string `json:"identifier"`
	Marketplace string `json:"marketplace"`
}

// ClearCacheResponse reports how many stored products were removed.
type ClearCacheResponse struct {
	Removed int `json:"removed"`
}

// CredentialsResponse reports whether upstream lookups are enabled. It never
// echoes credential values.
type CredentialsResponse struct {
	Active bool `json:"active"`
}

// RefreshResponse reports a manually triggered job run.
type RefreshResponse struct {
	Job    string `json:"job"`
	Status string `json:"status"`
}

// HealthResponse is the JSON response for the health check endpoint.
type HealthResponse struct {
	Status       string   `json:"status"`
	Time         string   `json:"time"`
	Credentials  bool     `json:"credentials"`
	Marketplaces []string `json:"marketplaces"`
}

// ItemsRequest is the expected JSON body for POST /api/v1/items.
type ItemsRequest struct {
	Identifiers []string `json:"identifiers"`
	Marketplace string   `json:"marketplace"`
	ForceFresh  bool     `json:"force_fresh"`
}

// ResolveRequest is the expected JSON body for POST /api/v1/resolve.
type ResolveRequest struct {
	Attributes map[string]any `json:"attributes"`
}

// CredentialsRequest is the expected JSON body for PUT /api/v1/credentials.
// Empty fields leave the stored value unchanged.
type CredentialsRequest struct {
	AccessKey  string `json:"access_key"`
	SecretKey  string `json:"secret_key"`
	PartnerTag string `json:"partner_tag"`
}

// ClickRequest is the expected JSON body for POST /api/v1/clicks.
type ClickRequest struct {
	Identifier  string `json:"identifier"`
	Marketplace string `json:"marketplace"`
	Referrer    string `json:"referrer"`
}

// toProductResponse converts a domain Product to its JSON representation.
func toProductResponse(p model.Product) ProductResponse {
	features := p.Features
	if features == nil {
		features = []string{}
	}

	return ProductResponse{
		Identifier:        p.Identifier,
		Marketplace:       p.Marketplace,
		Title:             p.Title,
		URL:               p.URL,
		ImageSmall:        p.ImageSmall,
		ImageMedium:       p.ImageMedium,
		ImageLarge:        p.ImageLarge,
		PriceDisplay:      p.PriceDisplay,
		PriceAmount:       p.PriceAmount,
		PriceCurrency:     p.PriceCurrency,
		ListPriceAmount:   p.ListPriceAmount,
		ListPrice:         p.ListPrice(),
		SavingsPercentage: p.SavingsPercentage,
		Rating:            p.Rating,
		ReviewCount:       p.ReviewCount,
		IsPrime:           p.IsPrime,
		Availability:      p.Availability,
		Brand:             p.Brand,
		Description:       p.Description,
		Features:          features,
		Category:          p.Category,
		IsManual:          p.IsManual,
		Badge:             p.Badge,
		ButtonText:        p.ButtonText,
		LastUpdated:       formatTime(p.LastUpdated),
		CreatedAt:         formatTime(p.CreatedAt),
	}
}

func toProductResponses(products []model.Product) []ProductResponse {
	resp := make([]ProductResponse, 0, len(products))
	for _, p := range products {
		resp = append(resp, toProductResponse(p))
	}
	return resp
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// flattenAttributes converts a decoded JSON object into the flat string
// attributes the application layer parses. Lists are joined with newlines.
func flattenAttributes(in map[string]any) (map[string]string, error) {
	out := make(map[string]string, len(in))
	for k, v := range in {
		s, err := attributeString(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		out[k] = s
	}
	return out, nil
}

func attributeString(v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			s, err := attributeString(item)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, "\n"), nil
	default:
		return "", fmt.Errorf("unsupported value of type %T", v)
	}
}
