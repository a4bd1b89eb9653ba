package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ericfisherdev/productcache/internal/domain/port/driven"
)

// Credentials are the plaintext values needed to call the product API.
type Credentials struct {
	AccessKey  string
	SecretKey  string
	PartnerTag string
}

// Complete reports whether every value is present.
func (c Credentials) Complete() bool {
	return c.AccessKey != "" && c.SecretKey != "" && c.PartnerTag != ""
}

// ClientFactory builds a product API client for credentials. Every client it
// returns must share the process-wide throttle.
type ClientFactory func(Credentials) driven.ProductAPI

// CredentialService persists API credentials and swaps the active client
// when they change.
type CredentialService struct {
	store    driven.CredentialStore
	provider *ClientProvider
	factory  ClientFactory
	fallback Credentials
	logger   *slog.Logger
}

// NewCredentialService creates a CredentialService. fallback holds the
// environment-configured values used for any credential not stored.
func NewCredentialService(
	store driven.CredentialStore,
	provider *ClientProvider,
	factory ClientFactory,
	fallback Credentials,
	logger *slog.Logger,
) *CredentialService {
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialService{
		store:    store,
		provider: provider,
		factory:  factory,
		fallback: fallback,
		logger:   logger,
	}
}

// Resolve returns the effective credentials: stored values win over the
// fallback.
func (s *CredentialService) Resolve(ctx context.Context) (Credentials, error) {
	c := s.fallback
	fields := []struct {
		name string
		dst  *string
	}{
		{driven.CredentialAccessKey, &c.AccessKey},
		{driven.CredentialSecretKey, &c.SecretKey},
		{driven.CredentialPartnerTag, &c.PartnerTag},
	}
	for _, f := range fields {
		v, err := s.store.Get(ctx, f.name)
		if err != nil {
			return Credentials{}, fmt.Errorf("resolve credentials: %w", err)
		}
		if v != "" {
			*f.dst = v
		}
	}
	return c, nil
}

// Activate resolves the credentials and installs a client when they are
// complete. It reports whether a client is active afterwards.
func (s *CredentialService) Activate(ctx context.Context) (bool, error) {
	c, err := s.Resolve(ctx)
	if err != nil {
		return s.provider.HasClient(), err
	}
	if !c.Complete() {
		s.logger.Warn("product API credentials incomplete; upstream lookups disabled")
		return s.provider.HasClient(), nil
	}
	s.provider.Replace(s.factory(c))
	return true, nil
}

// Update stores the non-empty values of c and reactivates the client.
func (s *CredentialService) Update(ctx context.Context, c Credentials) (bool, error) {
	values := []struct {
		name  string
		value string
	}{
		{driven.CredentialAccessKey, strings.TrimSpace(c.AccessKey)},
		{driven.CredentialSecretKey, strings.TrimSpace(c.SecretKey)},
		{driven.CredentialPartnerTag, strings.TrimSpace(c.PartnerTag)},
	}

	var updated int
	for _, v := range values {
		if v.value == "" {
			continue
		}
		if err := s.store.Set(ctx, v.name, v.value); err != nil {
			return s.provider.HasClient(), fmt.Errorf("update credentials: %w", err)
		}
		updated++
	}
	if updated == 0 {
		return s.provider.HasClient(), fmt.Errorf("update credentials: no values given: %w", driven.ErrValidation)
	}

	s.logger.Info("product API credentials updated", "fields", updated)
	return s.Activate(ctx)
}
