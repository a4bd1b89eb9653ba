// Package paapi implements the ProductAPI port against the Product
// Advertising API 5.0 using signed JSON requests.
package paapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ericfisherdev/productcache/internal/domain/model"
	"github.com/ericfisherdev/productcache/internal/domain/port/driven"
	"github.com/ericfisherdev/productcache/internal/metrics"
)

// Compile-time interface satisfaction check.
var _ driven.ProductAPI = (*Client)(nil)

const (
	// DefaultTimeout bounds each upstream request.
	DefaultTimeout = 15 * time.Second

	itemsPerPage = 10
	maxPages     = 10

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 4 << 20
)

// resources lists the response groups requested for every item.
var resources = []string{
	"BrowseNodeInfo.BrowseNodes",
	"CustomerReviews.Count",
	"CustomerReviews.StarRating",
	"Images.Primary.Small",
	"Images.Primary.Medium",
	"Images.Primary.Large",
	"ItemInfo.ByLineInfo",
	"ItemInfo.Classifications",
	"ItemInfo.Features",
	"ItemInfo.Title",
	"Offers.Listings.Availability.Message",
	"Offers.Listings.DeliveryInfo.IsPrimeEligible",
	"Offers.Listings.Price",
	"Offers.Listings.SavingBasis",
}

// sortModes maps caller-facing sort names onto SortBy values. Relevance is
// the upstream default and is sent as no SortBy at all.
var sortModes = map[string]string{
	"relevance":  "",
	"price_low":  "Price:LowToHigh",
	"price_high": "Price:HighToLow",
	"newest":     "NewestArrivals",
	"reviews":    "AvgCustomerReviews",
	"featured":   "Featured",
}

// Credentials are the plaintext values needed to sign requests.
type Credentials struct {
	AccessKey  string
	SecretKey  string
	PartnerTag string
}

// Complete reports whether every credential is present.
func (c Credentials) Complete() bool {
	return c.AccessKey != "" && c.SecretKey != "" && c.PartnerTag != ""
}

// Client implements the driven.ProductAPI port.
type Client struct {
	httpClient *http.Client
	creds      Credentials
	throttle   *Throttle
	baseURL    *url.URL // nil in production: requests go to the marketplace host.
	now        func() time.Time
	logger     *slog.Logger
}

// NewClient creates a Client that sends requests to the marketplace hosts.
// throttle is shared with every other Client created by the process.
func NewClient(creds Credentials, throttle *Throttle, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		creds:      creds,
		throttle:   throttle,
		now:        time.Now,
		logger:     logger,
	}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base
// URL. This constructor is intended for testing, allowing injection of an
// httptest server. The signed host header still names the marketplace host.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string, creds Credentials, throttle *Throttle) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}

	return &Client{
		httpClient: httpClient,
		creds:      creds,
		throttle:   throttle,
		baseURL:    u,
		now:        time.Now,
		logger:     slog.Default(),
	}, nil
}

type searchItemsPayload struct {
	Keywords    string   `json:"Keywords"`
	SearchIndex string   `json:"SearchIndex"`
	ItemCount   int      `json:"ItemCount"`
	ItemPage    int      `json:"ItemPage"`
	SortBy      string   `json:"SortBy,omitempty"`
	PartnerTag  string   `json:"PartnerTag"`
	PartnerType string   `json:"PartnerType"`
	Marketplace string   `json:"Marketplace"`
	Resources   []string `json:"Resources"`
}

type getItemsPayload struct {
	ItemIDs     []string `json:"ItemIds"`
	ItemIDType  string   `json:"ItemIdType"`
	PartnerTag  string   `json:"PartnerTag"`
	PartnerType string   `json:"PartnerType"`
	Marketplace string   `json:"Marketplace"`
	Resources   []string `json:"Resources"`
}

// SearchItems runs a keyword search and returns one page of results. Items
// without identifier or title are dropped. A response without a search
// result yields an empty page, not an error.
func (c *Client) SearchItems(ctx context.Context, req driven.SearchRequest) (*driven.SearchResult, error) {
	mp := model.LookupMarketplace(req.Marketplace)

	category := strings.TrimSpace(req.Category)
	if category == "" {
		category = "All"
	}

	payload := searchItemsPayload{
		Keywords:    req.Keywords,
		SearchIndex: category,
		ItemCount:   itemsPerPage,
		ItemPage:    clampPage(req.Page),
		SortBy:      sortBy(req.Sort),
		PartnerTag:  c.creds.PartnerTag,
		PartnerType: "Associates",
		Marketplace: mp.Domain,
		Resources:   resources,
	}

	body, err := c.do(ctx, OpSearchItems, mp, payload)
	if err != nil {
		return nil, err
	}

	result := gjson.GetBytes(body, "SearchResult")
	total := int(result.Get("TotalResultCount").Int())

	products := c.mapItems(result.Get("Items"), mp.Code)

	pages := (total + itemsPerPage - 1) / itemsPerPage
	if pages > maxPages {
		pages = maxPages
	}

	return &driven.SearchResult{
		Products: products,
		Total:    total,
		Pages:    pages,
	}, nil
}

// GetItems fetches up to driven.MaxBatchSize identifiers in one request.
func (c *Client) GetItems(ctx context.Context, identifiers []string, marketplace string) ([]model.Product, error) {
	if len(identifiers) == 0 {
		return []model.Product{}, nil
	}
	if len(identifiers) > driven.MaxBatchSize {
		return nil, fmt.Errorf("get items: %d identifiers exceeds batch size %d: %w", len(identifiers), driven.MaxBatchSize, driven.ErrValidation)
	}

	mp := model.LookupMarketplace(marketplace)

	payload := getItemsPayload{
		ItemIDs:     identifiers,
		ItemIDType:  "ASIN",
		PartnerTag:  c.creds.PartnerTag,
		PartnerType: "Associates",
		Marketplace: mp.Domain,
		Resources:   resources,
	}

	body, err := c.do(ctx, OpGetItems, mp, payload)
	if err != nil {
		return nil, err
	}

	return c.mapItems(gjson.GetBytes(body, "ItemsResult.Items"), mp.Code), nil
}

func (c *Client) mapItems(items gjson.Result, marketplace string) []model.Product {
	products := []model.Product{}
	if !items.IsArray() {
		return products
	}

	now := c.now()
	for _, item := range items.Array() {
		p := mapItem(item, marketplace, now)
		if !p.IsValid() {
			c.logger.Debug("skipping upstream item without identifier or title", "asin", p.Identifier)
			continue
		}
		products = append(products, p)
	}
	return products
}

// do throttles, signs and sends one request and returns the validated
// response body. It never retries.
func (c *Client) do(ctx context.Context, op Operation, mp model.Marketplace, payload any) ([]byte, error) {
	if !c.creds.Complete() {
		return nil, driven.ErrCredentialsMissing
	}

	if err := c.throttle.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", op, err)
	}

	signer := NewSigner(c.creds.AccessKey, c.creds.SecretKey, mp.Region, mp.Host)
	headers := signer.Sign(op, body, c.now())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(mp, op), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", op, err)
	}
	for name, value := range headers {
		if name == "host" {
			continue
		}
		req.Header.Set(name, value)
	}
	req.Host = mp.Host

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordUpstream(string(op), "transport_error", time.Since(start))
		return nil, fmt.Errorf("%s request to %s: %w", op, mp.Host, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.RecordUpstream(string(op), "transport_error", time.Since(start))
		return nil, fmt.Errorf("read %s response: %w", op, err)
	}

	c.logger.Debug("product api call",
		"operation", string(op),
		"marketplace", mp.Code,
		"status", resp.StatusCode,
		"bytes", len(respBody),
		"duration", time.Since(start).Round(time.Millisecond),
	)

	if resp.StatusCode != http.StatusOK {
		metrics.RecordUpstream(string(op), "http_error", time.Since(start))
		upstreamErr := &driven.UpstreamError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       string(respBody),
		}
		if first := gjson.GetBytes(respBody, "Errors.0"); first.Exists() {
			upstreamErr.Code = first.Get("Code").String()
			if msg := first.Get("Message").String(); msg != "" {
				upstreamErr.Message = msg
			}
		}
		return nil, upstreamErr
	}

	if !gjson.ValidBytes(respBody) {
		metrics.RecordUpstream(string(op), "decode_error", time.Since(start))
		return nil, &driven.DecodeError{Err: errors.New("response body is not valid JSON")}
	}

	if errs := gjson.GetBytes(respBody, "Errors"); errs.IsArray() && len(errs.Array()) > 0 {
		metrics.RecordUpstream(string(op), "api_error", time.Since(start))
		first := errs.Array()[0]
		return nil, &driven.UpstreamError{
			StatusCode: resp.StatusCode,
			Code:       first.Get("Code").String(),
			Message:    first.Get("Message").String(),
			Body:       string(respBody),
		}
	}

	metrics.RecordUpstream(string(op), "ok", time.Since(start))
	return respBody, nil
}

func (c *Client) endpoint(mp model.Marketplace, op Operation) string {
	if c.baseURL != nil {
		u := *c.baseURL
		u.Path = strings.TrimSuffix(u.Path, "/") + op.Path()
		return u.String()
	}
	return "https://" + mp.Host + op.Path()
}

func clampPage(page int) int {
	switch {
	case page < 1:
		return 1
	case page > maxPages:
		return maxPages
	}
	return page
}

// sortBy maps a caller sort name onto an upstream SortBy value. Unknown
// names pass through unchanged so raw upstream values keep working.
func sortBy(sort string) string {
	sort = strings.TrimSpace(sort)
	if v, ok := sortModes[strings.ToLower(sort)]; ok {
		return v
	}
	return sort
}
