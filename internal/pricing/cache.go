// Package pricing serves the current ticket price.  The price lives in the
// settings table; a TTL cache keeps it in process and, when Redis is
// configured, shares it across instances.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/newstore-ledger/internal/clock"
	"github.com/iliyamo/newstore-ledger/internal/repository"
)

// SettingName is the settings row holding the price in minor units.
const SettingName = "ticket_price_cents"

const redisKey = "price:ticket"

// Settings is the backing store of the price.
type Settings interface {
	GetSetting(ctx context.Context, name string) (string, error)
	PutSetting(ctx context.Context, name, value string) error
}

// Cache is the price collaborator.  The zero value is not usable; build it
// with New.
type Cache struct {
	src      Settings
	rdb      *redis.Client // nil keeps the cache process-local
	clock    clock.Clock
	ttl      time.Duration
	fallback int64

	mu       sync.Mutex
	value    int64
	loadedAt time.Time
	valid    bool
}

// New returns a cache that falls back to defaultCents when no price was ever
// set.
func New(src Settings, rdb *redis.Client, clk clock.Clock, ttl time.Duration, defaultCents int64) *Cache {
	return &Cache{src: src, rdb: rdb, clock: clk, ttl: ttl, fallback: defaultCents}
}

// Current returns the ticket price in minor units.
func (c *Cache) Current(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	if c.valid && now.Sub(c.loadedAt) < c.ttl {
		return c.value, nil
	}

	if c.rdb != nil {
		if raw, err := c.rdb.Get(ctx, redisKey).Result(); err == nil {
			if v, perr := strconv.ParseInt(raw, 10, 64); perr == nil && v > 0 {
				c.remember(v, now)
				return v, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			slog.Warn("price cache: redis get failed", "err", err)
		}
	}

	v, err := c.load(ctx)
	if err != nil {
		return 0, err
	}
	c.remember(v, now)
	if c.rdb != nil {
		if err := c.rdb.Set(ctx, redisKey, strconv.FormatInt(v, 10), c.ttl).Err(); err != nil {
			slog.Warn("price cache: redis set failed", "err", err)
		}
	}
	return v, nil
}

func (c *Cache) load(ctx context.Context) (int64, error) {
	raw, err := c.src.GetSetting(ctx, SettingName)
	if errors.Is(err, repository.ErrNotFound) {
		return c.fallback, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load price: %w", err)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		slog.Error("price setting is not a positive integer, using default", "value", raw, "default", c.fallback)
		return c.fallback, nil
	}
	return v, nil
}

func (c *Cache) remember(v int64, at time.Time) {
	c.value, c.loadedAt, c.valid = v, at, true
}

// Set stores a new price and drops every cached copy.
func (c *Cache) Set(ctx context.Context, cents int64) error {
	if cents <= 0 {
		return fmt.Errorf("price must be positive, got %d", cents)
	}
	if err := c.src.PutSetting(ctx, SettingName, strconv.FormatInt(cents, 10)); err != nil {
		return err
	}
	c.Invalidate(ctx)
	return nil
}

// Invalidate forgets the cached price locally and in Redis.
func (c *Cache) Invalidate(ctx context.Context) {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
	if c.rdb != nil {
		if err := c.rdb.Del(ctx, redisKey).Err(); err != nil {
			slog.Warn("price cache: redis del failed", "err", err)
		}
	}
}
