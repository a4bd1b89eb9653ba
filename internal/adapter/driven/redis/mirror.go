// Package redis implements the ProductMirror port on Redis. Entries expire
// with the Redis key TTL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ericfisherdev/productcache/internal/domain/model"
	"github.com/ericfisherdev/productcache/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ProductMirror = (*Mirror)(nil)

// DefaultPrefix namespaces mirror keys so Clear never touches foreign keys.
const DefaultPrefix = "productcache:product:"

const scanBatch = 200

// Mirror stores JSON-encoded products under prefix + MARKETPLACE:IDENTIFIER.
type Mirror struct {
	rdb    goredis.UniversalClient
	prefix string
}

// NewMirror creates a Mirror on rdb. An empty prefix selects DefaultPrefix.
func NewMirror(rdb goredis.UniversalClient, prefix string) *Mirror {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Mirror{rdb: rdb, prefix: prefix}
}

// Ping checks connectivity; the composition root falls back to the in-process
// mirror when it fails.
func (m *Mirror) Ping(ctx context.Context) error {
	if err := m.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (m *Mirror) key(k model.ProductKey) string {
	return m.prefix + k.String()
}

// Get returns the mirrored product, or nil, nil on a miss.
func (m *Mirror) Get(ctx context.Context, key model.ProductKey) (*model.Product, error) {
	data, err := m.rdb.Get(ctx, m.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}

	var p model.Product
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode mirrored product %s: %w", key, err)
	}
	return &p, nil
}

// Set stores p for ttl. A non-positive ttl is a no-op.
func (m *Mirror) Set(ctx context.Context, p model.Product, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode product %s: %w", p.Key(), err)
	}
	if err := m.rdb.Set(ctx, m.key(p.Key()), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", p.Key(), err)
	}
	return nil
}

// Delete removes the mirrored product.
func (m *Mirror) Delete(ctx context.Context, key model.ProductKey) error {
	if err := m.rdb.Del(ctx, m.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Clear removes every key under the mirror prefix.
func (m *Mirror) Clear(ctx context.Context) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := m.rdb.Scan(ctx, cursor, m.prefix+"*", scanBatch).Result()
		if err != nil {
			return removed, fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			n, err := m.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("redis del: %w", err)
			}
			removed += int(n)
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}
