package application_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ericfisherdev/productcache/internal/domain/model"
	"github.com/ericfisherdev/productcache/internal/domain/port/driven"
)

// --- ProductAPI mock ---

type getItemsCall struct {
	Identifiers []string
	Marketplace string
}

type mockProductAPI struct {
	mu          sync.Mutex
	searchItems func(ctx context.Context, req driven.SearchRequest) (*driven.SearchResult, error)
	getItems    func(ctx context.Context, ids []string, marketplace string) ([]model.Product, error)
	calls       []getItemsCall
	searches    []driven.SearchRequest
}

func (m *mockProductAPI) SearchItems(ctx context.Context, req driven.SearchRequest) (*driven.SearchResult, error) {
	m.mu.Lock()
	m.searches = append(m.searches, req)
	m.mu.Unlock()
	if m.searchItems == nil {
		return &driven.SearchResult{}, nil
	}
	return m.searchItems(ctx, req)
}

func (m *mockProductAPI) GetItems(ctx context.Context, ids []string, marketplace string) ([]model.Product, error) {
	m.mu.Lock()
	m.calls = append(m.calls, getItemsCall{Identifiers: append([]string(nil), ids...), Marketplace: marketplace})
	m.mu.Unlock()
	if m.getItems == nil {
		return echoItems(ids, marketplace), nil
	}
	return m.getItems(ctx, ids, marketplace)
}

func (m *mockProductAPI) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// echoItems returns one product per identifier, titled after it.
func echoItems(ids []string, marketplace string) []model.Product {
	out := make([]model.Product, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Product{
			Identifier:  id,
			Marketplace: marketplace,
			Title:       "Fetched " + id,
			Features:    []string{},
		})
	}
	return out
}

// --- ProductStore mock ---

type mockProductStore struct {
	mu        sync.Mutex
	products  map[model.ProductKey]model.Product
	attempted map[model.ProductKey]time.Time
	getCalls  int
	getErr    error
}

func newMockProductStore() *mockProductStore {
	return &mockProductStore{
		products:  make(map[model.ProductKey]model.Product),
		attempted: make(map[model.ProductKey]time.Time),
	}
}

func (m *mockProductStore) Upsert(_ context.Context, p model.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.products[p.Key()]; ok {
		p.CreatedAt = existing.CreatedAt
	}
	m.products[p.Key()] = p
	return nil
}

func (m *mockProductStore) Get(_ context.Context, key model.ProductKey) (*model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.getErr != nil {
		return nil, m.getErr
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
	return nil
}

func (m *mockProductStore) DeleteAll(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.products)
	m.products = make(map[model.ProductKey]model.Product)
	return n, nil
}

func (m *mockProductStore) ListStale(_ context.Context, cutoff time.Time, limit int) ([]model.ProductKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	touched := func(p model.Product) time.Time {
		if at, ok := m.attempted[p.Key()]; ok && at.After(p.LastUpdated) {
			return at
		}
		return p.LastUpdated
	}

	var stale []model.Product
	for _, p := range m.products {
		if !p.IsManual && touched(p).Before(cutoff) {
			stale = append(stale, p)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		ti, tj := touched(stale[i]), touched(stale[j])
		if ti.Equal(tj) {
			return stale[i].Identifier < stale[j].Identifier
		}
		return ti.Before(tj)
	})
	keys := []model.ProductKey{}
	for i := 0; i < len(stale) && i < limit; i++ {
		keys = append(keys, stale[i].Key())
	}
	return keys, nil
}

func (m *mockProductStore) MarkRefreshAttempted(_ context.Context, keys []model.ProductKey, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		if _, ok := m.products[k]; ok {
			m.attempted[k] = at
		}
	}
	return nil
}

func (m *mockProductStore) SearchManual(_ context.Context, query string) ([]model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := strings.ToLower(query)
	out := []model.Product{}
	for _, p := range m.products {
		if p.IsManual && strings.Contains(strings.ToLower(p.Title), q) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockProductStore) put(p model.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.Key()] = p
}

func (m *mockProductStore) get(key model.ProductKey) (model.Product, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[key]
	return p, ok
}

// --- ProductMirror mock ---

type mockMirror struct {
	mu      sync.Mutex
	entries map[model.ProductKey]model.Product
	ttls    map[model.ProductKey]time.Duration
	err     error
}

func newMockMirror() *mockMirror {
	return &mockMirror{
		entries: make(map[model.ProductKey]model.Product),
		ttls:    make(map[model.ProductKey]time.Duration),
	}
}

func (m *mockMirror) Get(_ context.Context, key model.ProductKey) (*model.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	p, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *mockMirror) Set(_ context.Context, p model.Product, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries[p.Key()] = p
	m.ttls[p.Key()] = ttl
	return nil
}

func (m *mockMirror) Delete(_ context.Context, key model.ProductKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return m.err
}

func (m *mockMirror) Clear(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	n := len(m.entries)
	m.entries = make(map[model.ProductKey]model.Product)
	return n, nil
}

func (m *mockMirror) has(key model.ProductKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	return ok
}

// --- CredentialStore mock ---

type mockCredentialStore struct {
	values map[string]string
	setErr error
}

func newMockCredentialStore() *mockCredentialStore {
	return &mockCredentialStore{values: make(map[string]string)}
}

func (m *mockCredentialStore) Set(_ context.Context, name, plaintext string) error {
	if m.setErr != nil {
		return m.setErr
	}
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

// --- ClickStore mock ---

type mockClickStore struct {
	clicks      []model.Click
	prunedUntil time.Time
}

func (m *mockClickStore) Record(_ context.Context, click model.Click) error {
	m.clicks = append(m.clicks, click)
	return nil
}

func (m *mockClickStore) PruneBefore(_ context.Context, cutoff time.Time) (int, error) {
	m.prunedUntil = cutoff
	kept := m.clicks[:0]
	removed := 0
	for _, c := range m.clicks {
		if c.ClickedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, c)
	}
	m.clicks = kept
	return removed, nil
}

var errBoom = errors.New("boom")
