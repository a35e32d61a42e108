package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CompanyConfig is the per-ticker dashboard configuration entry. The cache
// mostly answers existence/active lookups ("does ticker X have a config?").
type CompanyConfig struct {
	Ticker string `json:"ticker"`
	Active bool   `json:"active"`
}

// ConfigBackend is the authoritative config API.
type ConfigBackend interface {
	ListConfigs(ctx context.Context) ([]CompanyConfig, error)
	UpdateConfigActive(ctx context.Context, ticker string, active bool) (CompanyConfig, error)
}

// ConfigCache is a TTL-cached existence map over company configs. Reads
// inside the TTL window never hit the network; successful writes update the
// affected entry synchronously so a same-session read is never stale for
// longer than the write round-trip.
type ConfigCache struct {
	backend ConfigBackend
	logger  zerolog.Logger
	ttl     time.Duration
	now     func() time.Time

	mu        sync.Mutex
	configs   map[string]CompanyConfig
	fetched   bool
	fetchedAt time.Time
}

// ConfigCacheOptions tune the cache.
type ConfigCacheOptions struct {
	TTL time.Duration
	Now func() time.Time
}

// NewConfigCache constructs an empty cache.
func NewConfigCache(backend ConfigBackend, opts ConfigCacheOptions, logger zerolog.Logger) *ConfigCache {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ConfigCache{
		backend: backend,
		logger:  logger.With().Str("component", "config_cache").Logger(),
		ttl:     opts.TTL,
		now:     opts.Now,
		configs: make(map[string]CompanyConfig),
	}
}

// Get returns the config for ticker and whether one exists. An expired
// cache triggers one bulk fetch; a fetch failure keeps the stale map, serves
// from it (stale-but-available), and reports the error alongside.
func (c *ConfigCache) Get(ctx context.Context, ticker string) (CompanyConfig, bool, error) {
	err := c.ensureFresh(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg, ok := c.configs[ticker]
	return cfg, ok, err
}

// Has reports config existence for ticker.
func (c *ConfigCache) Has(ctx context.Context, ticker string) (bool, error) {
	_, ok, err := c.Get(ctx, ticker)
	return ok, err
}

// All returns a snapshot of every cached config, sorted by ticker. A failed
// refetch still returns the stale snapshot with the error.
func (c *ConfigCache) All(ctx context.Context) ([]CompanyConfig, error) {
	err := c.ensureFresh(ctx)
	c.mu.Lock()
	out := make([]CompanyConfig, 0, len(c.configs))
	for _, cfg := range c.configs {
		out = append(out, cfg)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Ticker < out[j].Ticker })
	return out, err
}

// Invalidate expires the cache so the next read refetches.
func (c *ConfigCache) Invalidate(ticker string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.configs, ticker)
	c.fetchedAt = time.Time{}
}

// SetAfterWrite installs the authoritative post-write value for a key.
func (c *ConfigCache) SetAfterWrite(cfg CompanyConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configs[cfg.Ticker] = cfg
}

// UpdateActive toggles a config's active flag write-through: optimistic
// local update, backend call, rollback on rejection.
func (c *ConfigCache) UpdateActive(ctx context.Context, ticker string, active bool) error {
	c.mu.Lock()
	prev, existed := c.configs[ticker]
	c.configs[ticker] = CompanyConfig{Ticker: ticker, Active: active}
	c.mu.Unlock()

	cfg, err := c.backend.UpdateConfigActive(ctx, ticker, active)
	if err != nil {
		c.mu.Lock()
		if existed {
			c.configs[ticker] = prev
		} else {
			delete(c.configs, ticker)
		}
		c.mu.Unlock()
		c.logger.Warn().Err(err).Str("ticker", ticker).Msg("config update rejected; rolled back")
		return fmt.Errorf("update config %q: %w", ticker, err)
	}

	c.SetAfterWrite(cfg)
	return nil
}

func (c *ConfigCache) ensureFresh(ctx context.Context) error {
	c.mu.Lock()
	if c.fetched && c.now().Sub(c.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	configs, err := c.backend.ListConfigs(ctx)
	if err != nil {
		return fmt.Errorf("list configs: %w", err)
	}

	c.mu.Lock()
	c.configs = make(map[string]CompanyConfig, len(configs))
	for _, cfg := range configs {
		c.configs[cfg.Ticker] = cfg
	}
	c.fetched = true
	c.fetchedAt = c.now()
	c.mu.Unlock()

	c.logger.Debug().Int("configs", len(configs)).Msg("config cache refreshed")
	return nil
}
