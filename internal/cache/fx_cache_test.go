package cache_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/evetabi/surebet/internal/cache"
	"github.com/evetabi/surebet/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

type countingSource struct {
	rates map[string]decimal.Decimal
	calls int
}

func (s *countingSource) LatestRate(_ context.Context, currency string) (decimal.Decimal, error) {
	s.calls++
	r, ok := s.rates[currency]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrFXRateMissing, currency)
	}
	return r, nil
}

func setup(t *testing.T) (*miniredis.Miniredis, *countingSource, *cache.RateCache) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(s.Close)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })

	src := &countingSource{rates: map[string]decimal.Decimal{
		"GBP": decimal.RequireFromString("1.171235"),
	}}
	return s, src, cache.NewRateCache(client, src, time.Minute, "test:")
}

func TestRateCacheReadThrough(t *testing.T) {
	s, src, c := setup(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rate, err := c.LatestRate(ctx, "gbp")
		if err != nil {
			t.Fatalf("LatestRate: %v", err)
		}
		if !rate.Equal(decimal.RequireFromString("1.171235")) {
			t.Fatalf("rate = %s", rate)
		}
	}
	if src.calls != 1 {
		t.Errorf("source calls = %d, want 1", src.calls)
	}
	if got, _ := s.Get("test:fx:GBP"); got != "1.171235" {
		t.Errorf("cached value = %q", got)
	}

	s.FastForward(2 * time.Minute)
	if _, err := c.LatestRate(ctx, "GBP"); err != nil {
		t.Fatal(err)
	}
	if src.calls != 2 {
		t.Errorf("source calls after expiry = %d, want 2", src.calls)
	}
}

func TestRateCacheDoesNotCacheMissing(t *testing.T) {
	s, src, c := setup(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := c.LatestRate(ctx, "USD"); !errors.Is(err, domain.ErrFXRateMissing) {
			t.Fatalf("err = %v, want ErrFXRateMissing", err)
		}
	}
	if src.calls != 2 {
		t.Errorf("source calls = %d, want 2", src.calls)
	}
	if s.Exists("test:fx:USD") {
		t.Error("missing rate was cached")
	}
}

func TestRateCacheReplacesUnreadableEntry(t *testing.T) {
	s, src, c := setup(t)
	ctx := context.Background()

	if err := s.Set("test:fx:GBP", "not-a-number"); err != nil {
		t.Fatal(err)
	}
	rate, err := c.LatestRate(ctx, "GBP")
	if err != nil || !rate.Equal(decimal.RequireFromString("1.171235")) {
		t.Fatalf("corrupt entry: rate=%s err=%v", rate, err)
	}

	if src.calls != 1 {
		t.Errorf("source calls = %d, want 1", src.calls)
	}
}

func TestRateCacheSurvivesRedisOutage(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close()
	src := &countingSource{rates: map[string]decimal.Decimal{"SEK": decimal.RequireFromString("0.087432")}}
	c := cache.NewRateCache(client, src, time.Minute, "test:")

	rate, err := c.LatestRate(context.Background(), "SEK")
	if err != nil || !rate.Equal(decimal.RequireFromString("0.087432")) {
		t.Fatalf("rate=%s err=%v", rate, err)
	}
	if src.calls != 1 {
		t.Errorf("source calls = %d, want 1", src.calls)
	}
}
