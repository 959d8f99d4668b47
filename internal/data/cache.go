// Package data: content-addressed on-disk cache, wrapping any other
// Provider. Cache keys are derived only from request parameters
// (ticker, date range, premarket flag) — never from strategy state —
// so the cache is safe to share across runs with different strategy
// configs.
package data

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ybi-research/scalp-backtest/internal/errs"
	"github.com/ybi-research/scalp-backtest/internal/logger"
)

// cacheProvider wraps an upstream Provider with a JSON file cache
// rooted at dir. A miss falls through to upstream and the result is
// persisted; upstream's own errors (including ErrDataUnavailable) pass
// straight through uncached.
type cacheProvider struct {
	dir       string
	upstream  Provider
	secondary Provider
}

// NewCacheProvider roots a content-addressed cache at dir, backed by
// upstream. dir defaults to the value of YBI_HTTP_CACHE_DIR when not
// supplied by the caller.
func NewCacheProvider(dir string, upstream Provider) *cacheProvider {
	if dir == "" {
		dir = os.Getenv("YBI_HTTP_CACHE_DIR")
	}
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "ybi-backtest-cache")
	}
	return &cacheProvider{dir: dir, upstream: upstream}
}

func (c *cacheProvider) Secondary() Provider { return c.secondary }

func cacheKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *cacheProvider) path(namespace, key string) string {
	return filepath.Join(c.dir, namespace, key[:2], key+".json")
}

func (c *cacheProvider) load(namespace, key string, v any) bool {
	b, err := os.ReadFile(c.path(namespace, key)) // #nosec G304 -- path built from a content hash under our own cache root
	if err != nil {
		return false
	}
	if err := json.Unmarshal(b, v); err != nil {
		logger.Errorf("event=cache_corrupt namespace=%s key=%s err=%v", namespace, key, err)
		return false
	}
	return true
}

func (c *cacheProvider) store(namespace, key string, v any) {
	p := c.path(namespace, key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		logger.Errorf("event=cache_write_failed namespace=%s err=%v", namespace, err)
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := os.WriteFile(p, b, 0o644); err != nil {
		logger.Errorf("event=cache_write_failed namespace=%s err=%v", namespace, err)
	}
}

func (c *cacheProvider) MinuteBars(ctx context.Context, ticker string, date time.Time, includePremarket bool) ([]Bar, error) {
	key := cacheKey(ticker, date.Format("2006-01-02"), fmt.Sprintf("%t", includePremarket))
	var bars []Bar
	if c.load("minute_bars", key, &bars) {
		return bars, nil
	}
	if c.upstream == nil {
		return nil, fmt.Errorf("data: %w: no cache entry and no upstream provider", errs.ErrNotFound)
	}
	bars, err := c.upstream.MinuteBars(ctx, ticker, date, includePremarket)
	if err != nil {
		return nil, err
	}
	c.store("minute_bars", key, bars)
	return bars, nil
}

func (c *cacheProvider) DailyBars(ctx context.Context, ticker string, from, to time.Time) ([]DailyBar, error) {
	key := cacheKey(ticker, from.Format("2006-01-02"), to.Format("2006-01-02"))
	var bars []DailyBar
	if c.load("daily_bars", key, &bars) {
		return bars, nil
	}
	if c.upstream == nil {
		return nil, fmt.Errorf("data: %w: no cache entry and no upstream provider", errs.ErrNotFound)
	}
	bars, err := c.upstream.DailyBars(ctx, ticker, from, to)
	if err != nil {
		return nil, err
	}
	c.store("daily_bars", key, bars)
	return bars, nil
}

func (c *cacheProvider) GroupedDaily(ctx context.Context, date time.Time) (map[string]DailyBar, error) {
	key := cacheKey(date.Format("2006-01-02"))
	var m map[string]DailyBar
	if c.load("grouped_daily", key, &m) {
		return m, nil
	}
	if c.upstream == nil {
		return nil, fmt.Errorf("data: %w: no cache entry and no upstream provider", errs.ErrNotFound)
	}
	m, err := c.upstream.GroupedDaily(ctx, date)
	if err != nil {
		return nil, err
	}
	c.store("grouped_daily", key, m)
	return m, nil
}

func (c *cacheProvider) Reference(ctx context.Context, ticker string) (*ReferenceRecord, error) {
	key := cacheKey(ticker)
	var r ReferenceRecord
	if c.load("reference", key, &r) {
		return &r, nil
	}
	if c.upstream == nil {
		return nil, nil
	}
	ref, err := c.upstream.Reference(ctx, ticker)
	if err != nil {
		return nil, err
	}
	if ref != nil {
		c.store("reference", key, ref)
	}
	return ref, nil
}
