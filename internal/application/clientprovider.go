package application

import (
	"sync"

	"github.com/ericfisherdev/productcache/internal/domain/port/driven"
)

// ClientProvider enables runtime hot-swap of the product API client.
// It holds a mutex-protected reference to the current driven.ProductAPI,
// allowing credential updates to take effect without restarting the
// application.
type ClientProvider struct {
	mu     sync.RWMutex
	client driven.ProductAPI
}

// NewClientProvider creates a new provider with the given initial client.
// client may be nil if no credentials are available at startup.
func NewClientProvider(client driven.ProductAPI) *ClientProvider {
	return &ClientProvider{client: client}
}

// Get returns the current client. Callers should check for nil
// if the provider was created without initial credentials.
func (p *ClientProvider) Get() driven.ProductAPI {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client
}

// Replace swaps the current client. This is used when credentials are
// updated over the API. The next caller of Get() receives the new client.
func (p *ClientProvider) Replace(client driven.ProductAPI) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.client = client
}

// HasClient returns true if a non-nil client is currently held.
func (p *ClientProvider) HasClient() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client != nil
}

// Require returns the current client or driven.ErrCredentialsMissing.
func (p *ClientProvider) Require() (driven.ProductAPI, error) {
	client := p.Get()
	if client == nil {
		return nil, driven.ErrCredentialsMissing
	}
	return client, nil
}
