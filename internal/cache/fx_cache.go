// Package cache keeps FX snapshots in redis in front of the database.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/evetabi/surebet/internal/domain"
	"github.com/evetabi/surebet/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

var _ service.RateSource = (*RateCache)(nil)

// RateCache is a read-through cache for FX rates. Redis failures fall back to
// the source; missing rates are never cached.
type RateCache struct {
	client *redis.Client
	source service.RateSource
	ttl    time.Duration
	prefix string
	log    *slog.Logger
}

// NewRateCache wraps source with a redis cache whose keys start with prefix.
func NewRateCache(client *redis.Client, source service.RateSource, ttl time.Duration, prefix string) *RateCache {
	return &RateCache{
		client: client,
		source: source,
		ttl:    ttl,
		prefix: prefix,
		log:    slog.Default().With("component", "fx_cache"),
	}
}

func (c *RateCache) key(currency string) string { return c.prefix + "fx:" + currency }

// LatestRate returns the cached rate for currency or loads and caches it.
func (c *RateCache) LatestRate(ctx context.Context, currency string) (decimal.Decimal, error) {
	currency = domain.NormalizeCurrency(currency)
	key := c.key(currency)

	val, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		rate, perr := decimal.NewFromString(val)
		if perr == nil {
			return rate, nil
		}
		c.log.Warn("discarding unreadable cached rate", "currency", currency, "value", val)
	case !errors.Is(err, redis.Nil):
		c.log.Warn("fx cache read failed", "currency", currency, "error", err)
	}

	rate, err := c.source.LatestRate(ctx, currency)
	if err != nil {
		return decimal.Zero, err
	}
	if err := c.client.Set(ctx, key, rate.String(), c.ttl).Err(); err != nil {
		c.log.Warn("fx cache write failed", "currency", currency, "error", err)
	}
	return rate, nil
}
