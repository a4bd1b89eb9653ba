package httphandler_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	httphandler "github.com/ericfisherdev/productcache/internal/adapter/driving/http"
	"github.com/ericfisherdev/productcache/internal/application"
	"github.com/ericfisherdev/productcache/internal/domain/model"
	"github.com/ericfisherdev/productcache/internal/domain/port/driven"
	"github.com/ericfisherdev/productcache/internal/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type mockProductAPI struct {
	products  []model.Product
	searchErr error
	getErr    error
	calls     int
}

func (m *mockProductAPI) SearchItems(_ context.Context, _ driven.SearchRequest) (*driven.SearchResult, error) {
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	return &driven.SearchResult{Products: m.products, Total: len(m.products), Pages: 1}, nil
}

func (m *mockProductAPI) GetItems(_ context.Context, ids []string, marketplace string) ([]model.Product, error) {
	m.calls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.products != nil {
		return m.products, nil
	}
	out := make([]model.Product, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Product{Identifier: id, Marketplace: marketplace, Title: "Item " + id})
	}
	return out, nil
}

type mockProductStore struct {
	mu       sync.Mutex
	products map[model.ProductKey]model.Product
	err      error
}

func (m *mockProductStore) Upsert(_ context.Context, p model.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.Key()] = p
	return m.err
}
func (m *mockProductStore) Get(_ context.Context, key model.ProductKey) (*model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.products[key]
	if !ok {
		return nil, nil
	}
	return &p, nil
}
func (m *mockProductStore) Delete(_ context.Context, key model.ProductKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.products, key)
	return m.err
}
func (m *mockProductStore) DeleteAll(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.products)
	m.products = make(map[model.ProductKey]model.Product)
	return n, m.err
}
func (m *mockProductStore) ListStale(_ context.Context, cutoff time.Time, limit int) ([]model.ProductKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := []model.ProductKey{}
	for k, p := range m.products {
		if len(keys) < limit && !p.IsManual && p.LastUpdated.Before(cutoff) {
			keys = append(keys, k)
		}
	}
	return keys, m.err
}
func (m *mockProductStore) MarkRefreshAttempted(context.Context, []model.ProductKey, time.Time) error {
	return m.err
}

func (m *mockProductStore) SearchManual(_ context.Context, query string) ([]model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Product{}
	for _, p := range m.products {
		if p.IsManual && strings.Contains(strings.ToLower(p.Title), strings.ToLower(query)) {
			out = append(out, p)
		}
	}
	return out, m.err
}

type mockCredentialStore struct {
	values map[string]string
}

func (m *mockCredentialStore) Set(_ context.Context, name, plaintext string) error {
	m.values[name] = plaintext
	return nil
}
func (m *mockCredentialStore) Get(_ context.Context, name string) (string, error) {
	return m.values[name], nil
}
func (m *mockCredentialStore) Delete(_ context.Context, name string) error {
	delete(m.values, name)
	return nil
}

type mockClickStore struct {
	clicks []model.Click
}

func (m *mockClickStore) Record(_ context.Context, click model.Click) error {
	m.clicks = append(m.clicks, click)
	return nil
}
func (m *mockClickStore) PruneBefore(_ context.Context, _ time.Time) (int, error) { return 0, nil }

// --- Test helpers ---

var testTime = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

type testServer struct {
	mux       http.Handler
	api       *mockProductAPI
	store     *mockProductStore
	clicks    *mockClickStore
	provider  *application.ClientProvider
	refreshes int
}

// setupServer wires real services over mocks. api may be nil to simulate
// missing credentials.
func setupServer(t *testing.T, api *mockProductAPI) *testServer {
	t.Helper()

	ts := &testServer{
		api:    api,
		store:  &mockProductStore{products: make(map[model.ProductKey]model.Product)},
		clicks: &mockClickStore{},
	}

	ts.provider = application.NewClientProvider(nil)
	if api != nil {
		ts.provider.Replace(api)
	}

	clk := clock.NewFake(testTime)
	cache := application.NewCacheService(ts.store, nil, 24*time.Hour, clk, slog.Default())
	products := application.NewProductService(ts.provider, cache, application.ProductServiceConfig{
		DefaultMarketplace: "US",
		CacheEnabled:       true,
	}, slog.Default())
	creds := application.NewCredentialService(
		&mockCredentialStore{values: make(map[string]string)},
		ts.provider,
		func(application.Credentials) driven.ProductAPI { return &mockProductAPI{} },
		application.Credentials{},
		slog.Default(),
	)
	clicks := application.NewClickService(ts.clicks, time.Hour, clk, slog.Default())
	scheduler := application.NewScheduler([]application.Job{
		{Name: "refresh", Run: func(context.Context) error {
			ts.refreshes++
			return nil
		}},
	}, false, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		scheduler.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	h := httphandler.NewHandler(products, cache, ts.provider, creds, clicks, scheduler, slog.Default())
	ts.mux = httphandler.NewServeMux(h, slog.Default())
	return ts
}

func (ts *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	err := json.NewDecoder(rec.Body).Decode(v)
	require.NoError(t, err)
}

func cachedProduct(id string, age time.Duration, manual bool) model.Product {
	return model.Product{
		Identifier:  id,
		Marketplace: "US",
		Title:       "Cached " + id,
		Features:    []string{},
		IsManual:    manual,
		LastUpdated: testTime.Add(-age),
		CreatedAt:   testTime.Add(-age),
	}
}

// --- Tests ---

func TestHealth(t *testing.T) {
	ts := setupServer(t, nil)

	rec := ts.do(http.MethodGet, "/api/v1/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, false, resp["credentials"])
	assert.Len(t, resp["marketplaces"], 12)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDIsPropagated(t *testing.T) {
	ts := setupServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestGetItem(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		api        *mockProductAPI
		wantStatus int
		wantError  string
	}{
		{
			name:       "fetched from upstream",
			path:       "/api/v1/items/de/b0test12345",
			api:        &mockProductAPI{},
			wantStatus: http.StatusOK,
		},
		{
			name:       "malformed identifier",
			path:       "/api/v1/items/US/nope",
			api:        &mockProductAPI{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid fresh flag",
			path:       "/api/v1/items/US/B0TEST12345?fresh=maybe",
			api:        &mockProductAPI{},
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid fresh flag",
		},
		{
			name:       "not found",
			path:       "/api/v1/items/US/B0TEST12345",
			api:        &mockProductAPI{products: []model.Product{}},
			wantStatus: http.StatusNotFound,
			wantError:  "product not found",
		},
		{
			name:       "credentials missing",
			path:       "/api/v1/items/US/B0TEST12345",
			api:        nil,
			wantStatus: http.StatusServiceUnavailable,
			wantError:  "product API credentials not configured",
		},
		{
			name:       "upstream error",
			path:       "/api/v1/items/US/B0TEST12345",
			api:        &mockProductAPI{getErr: &driven.UpstreamError{StatusCode: 429, Code: "TooManyRequests"}},
			wantStatus: http.StatusBadGateway,
			wantError:  "product API error: TooManyRequests",
		},
		{
			name:       "transport error",
			path:       "/api/v1/items/US/B0TEST12345",
			api:        &mockProductAPI{getErr: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}},
			wantStatus: http.StatusGatewayTimeout,
			wantError:  "product API unreachable",
		},
		{
			name:       "internal error",
			path:       "/api/v1/items/US/B0TEST12345",
			api:        &mockProductAPI{getErr: errors.New("unexpected")},
			wantStatus: http.StatusInternalServerError,
			wantError:  "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := setupServer(t, tt.api)

			rec := ts.do(http.MethodGet, tt.path, "")

			assert.Equal(t, tt.wantStatus, rec.Code)
			var resp map[string]any
			decodeJSON(t, rec, &resp)

			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "B0TEST12345", resp["identifier"])
				assert.Equal(t, "DE", resp["marketplace"])
				assert.Equal(t, "Item B0TEST12345", resp["title"])
				features, ok := resp["features"].([]any)
				require.True(t, ok, "features is an array, not null")
				assert.Empty(t, features)
			}
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, resp["error"])
			}
		})
	}
}

func TestGetItem_ServesFreshCacheWithoutCredentials(t *testing.T) {
	ts := setupServer(t, nil)
	ts.store.products[model.ProductKey{Identifier: "B0TEST12345", Marketplace: "US"}] = cachedProduct("B0TEST12345", time.Hour, false)

	rec := ts.do(http.MethodGet, "/api/v1/items/US/B0TEST12345", "")

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetItems(t *testing.T) {
	ts := setupServer(t, &mockProductAPI{})

	rec := ts.do(http.MethodPost, "/api/v1/items", `{"identifiers": ["B00000000B", "B00000000A"], "marketplace": "US"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp httphandler.ProductListResponse
	decodeJSON(t, rec, &resp)
	require.Len(t, resp.Products, 2)
	assert.Equal(t, "B00000000B", resp.Products[0].Identifier)
	assert.Equal(t, "B00000000A", resp.Products[1].Identifier)
	assert.Equal(t, 2, resp.Total)
}

func TestGetItems_BadRequests(t *testing.T) {
	ts := setupServer(t, &mockProductAPI{})

	rec := ts.do(http.MethodPost, "/api/v1/items", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/api/v1/items", `{"identifiers": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, ts.api.calls)
}

func TestSearch(t *testing.T) {
	api := &mockProductAPI{products: []model.Product{{Identifier: "B00000000A", Marketplace: "US", Title: "Lamp"}}}
	ts := setupServer(t, api)

	rec := ts.do(http.MethodGet, "/api/v1/search?keywords=lamp&page=2", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var resp httphandler.ProductListResponse
	decodeJSON(t, rec, &resp)
	require.Len(t, resp.Products, 1)
	assert.Equal(t, "Lamp", resp.Products[0].Title)

	rec = ts.do(http.MethodGet, "/api/v1/search", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/search?keywords=lamp&page=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolve(t *testing.T) {
	ts := setupServer(t, &mockProductAPI{})

	rec := ts.do(http.MethodPost, "/api/v1/resolve", `{"attributes": {"asins": ["B00000000A", "B00000000B"], "fresh": true}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	var resp httphandler.ProductListResponse
	decodeJSON(t, rec, &resp)
	assert.Len(t, resp.Products, 2)

	rec = ts.do(http.MethodPost, "/api/v1/resolve", `{"attributes": {"color": "red"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/api/v1/resolve", `{"attributes": {"identifier": {"nested": true}}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCacheEndpoints(t *testing.T) {
	ts := setupServer(t, nil)
	ts.store.products[model.ProductKey{Identifier: "B00000000A", Marketplace: "US"}] = cachedProduct("B00000000A", 48*time.Hour, false)
	ts.store.products[model.ProductKey{Identifier: "B00000000B", Marketplace: "US"}] = cachedProduct("B00000000B", time.Hour, false)

	rec := ts.do(http.MethodGet, "/api/v1/cache/us/b00000000a", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var entry httphandler.CacheEntryResponse
	decodeJSON(t, rec, &entry)
	assert.True(t, entry.Stale)
	assert.Equal(t, "B00000000A", entry.Product.Identifier)

	rec = ts.do(http.MethodGet, "/api/v1/cache/stale?limit=10", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var stale []httphandler.ProductKeyResponse
	decodeJSON(t, rec, &stale)
	assert.Equal(t, []httphandler.ProductKeyResponse{{Identifier: "B00000000A", Marketplace: "US"}}, stale)

	rec = ts.do(http.MethodGet, "/api/v1/cache/stale?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/cache/XX/B00000000A", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodDelete, "/api/v1/cache/US/B00000000A", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/cache/US/B00000000A", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodDelete, "/api/v1/cache", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var cleared httphandler.ClearCacheResponse
	decodeJSON(t, rec, &cleared)
	assert.Equal(t, 1, cleared.Removed)
}

func TestCacheGet_StoreError(t *testing.T) {
	ts := setupServer(t, nil)
	ts.store.err = errors.New("db fail")

	rec := ts.do(http.MethodGet, "/api/v1/cache/US/B00000000A", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestManualProducts(t *testing.T) {
	ts := setupServer(t, nil)

	rec := ts.do(http.MethodPost, "/api/v1/manual-products", `{
		"title": "<b>Handmade</b> Mug",
		"price_amount": 12.5,
		"features": ["Stoneware", "Dishwasher safe"],
		"prime": true
	}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	var created httphandler.ProductResponse
	decodeJSON(t, rec, &created)
	assert.Equal(t, "Handmade Mug", created.Title)
	assert.True(t, created.IsManual)
	assert.True(t, created.IsPrime)
	assert.Equal(t, []string{"Stoneware", "Dishwasher safe"}, created.Features)
	assert.Regexp(t, `^M[0-9A-F]{9}$`, created.Identifier)

	rec = ts.do(http.MethodGet, "/api/v1/manual-products?q=mug", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var listed []httphandler.ProductResponse
	decodeJSON(t, rec, &listed)
	require.Len(t, listed, 1)
	assert.Equal(t, created.Identifier, listed[0].Identifier)

	rec = ts.do(http.MethodPost, "/api/v1/manual-products", `{"price_amount": 3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateCredentials(t *testing.T) {
	ts := setupServer(t, nil)

	rec := ts.do(http.MethodPut, "/api/v1/credentials", `{"access_key": "a", "secret_key": "s", "partner_tag": "t-20"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	decodeJSON(t, rec, &resp)
	assert.Equal(t, map[string]any{"active": true}, resp)
	assert.True(t, ts.provider.HasClient())

	rec = ts.do(http.MethodPut, "/api/v1/credentials", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordClick(t *testing.T) {
	ts := setupServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/clicks", strings.NewReader(`{"identifier": "b00000000a", "marketplace": "de"}`))
	req.Header.Set("Referer", "https://blog.example.com/review")
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, ts.clicks.clicks, 1)
	assert.Equal(t, "B00000000A", ts.clicks.clicks[0].Identifier)
	assert.Equal(t, "DE", ts.clicks.clicks[0].Marketplace)
	assert.Equal(t, "https://blog.example.com/review", ts.clicks.clicks[0].Referrer)

	rec = ts.do(http.MethodPost, "/api/v1/clicks", `{"identifier": "x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerRefresh(t *testing.T) {
	ts := setupServer(t, nil)

	rec := ts.do(http.MethodPost, "/api/v1/refresh", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var resp httphandler.RefreshResponse
	decodeJSON(t, rec, &resp)
	assert.Equal(t, "refresh", resp.Job)
	assert.Equal(t, 1, ts.refreshes)

	rec = ts.do(http.MethodPost, "/api/v1/refresh?job=unknown", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupServer(t, nil)
	_ = ts.do(http.MethodGet, "/api/v1/health", "")

	rec := ts.do(http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "productcache_http_requests_total")
}

func TestRecoveryMiddleware(t *testing.T) {
	h := httphandler.NewHandler(nil, nil, nil, nil, nil, nil, slog.Default())
	mux := httphandler.NewServeMux(h, slog.Default())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/search?keywords=lamp", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
