// Package memory implements the ProductMirror port in process memory. It is
// the fallback when no Redis address is configured.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gregjones/httpcache"

	"github.com/ericfisherdev/productcache/internal/domain/model"
	"github.com/ericfisherdev/productcache/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ProductMirror = (*Mirror)(nil)

// entry wraps a product with its expiry; the byte cache has no TTL of its own.
type entry struct {
	ExpiresAt time.Time     `json:"expires_at"`
	Product   model.Product `json:"product"`
}

// sweepInterval is the minimum spacing between two expiry sweeps.
const sweepInterval = time.Minute

// Mirror keeps encoded entries in an httpcache.MemoryCache. Expired entries
// are dropped on read and by a sweep that Set runs at most once per
// sweepInterval. keys maps every held entry to its expiry.
type Mirror struct {
	cache *httpcache.MemoryCache
	now   func() time.Time

	mu        sync.Mutex
	keys      map[string]time.Time
	nextSweep time.Time
}

// NewMirror creates an empty Mirror. now defaults to time.Now.
func NewMirror(now func() time.Time) *Mirror {
	if now == nil {
		now = time.Now
	}
	return &Mirror{
		cache: httpcache.NewMemoryCache(),
		now:   now,
		keys:  make(map[string]time.Time),
	}
}

// Get returns the mirrored product, or nil, nil on a miss or expiry.
func (m *Mirror) Get(_ context.Context, key model.ProductKey) (*model.Product, error) {
	k := key.String()

	data, ok := m.cache.Get(k)
	if !ok {
		return nil, nil
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		m.drop(k)
		return nil, fmt.Errorf("decode mirrored product %s: %w", key, err)
	}
	if !m.now().Before(e.ExpiresAt) {
		m.drop(k)
		return nil, nil
	}
	return &e.Product, nil
}

// Set stores p until now+ttl. A non-positive ttl is a no-op.
func (m *Mirror) Set(_ context.Context, p model.Product, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	now := m.now()
	expiresAt := now.Add(ttl)
	data, err := json.Marshal(entry{ExpiresAt: expiresAt, Product: p})
	if err != nil {
		return fmt.Errorf("encode product %s: %w", p.Key(), err)
	}

	k := p.Key().String()
	m.mu.Lock()
	defer m.mu.Unlock()

	if !now.Before(m.nextSweep) {
		m.sweepLocked(now)
		m.nextSweep = now.Add(sweepInterval)
	}
	m.cache.Set(k, data)
	m.keys[k] = expiresAt
	return nil
}

// Delete removes the mirrored product.
func (m *Mirror) Delete(_ context.Context, key model.ProductKey) error {
	m.drop(key.String())
	return nil
}

// Clear removes every entry and returns how many were held, expired ones
// included.
func (m *Mirror) Clear(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.keys)
	for k := range m.keys {
		m.cache.Delete(k)
	}
	m.keys = make(map[string]time.Time)
	return n, nil
}

// sweepLocked drops every entry that expired at or before now. m.mu must be held.
func (m *Mirror) sweepLocked(now time.Time) {
	for k, expiresAt := range m.keys {
		if !now.Before(expiresAt) {
			m.cache.Delete(k)
			delete(m.keys, k)
		}
	}
}

func (m *Mirror) drop(k string) {
	m.mu.Lock()
	m.cache.Delete(k)
	delete(m.keys, k)
	m.mu.Unlock()
}
