package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/IliaW/site-bot/config"
	"github.com/IliaW/site-bot/internal"
	"github.com/IliaW/site-bot/internal/model"
	"github.com/bradfitz/gomemcache/memcache"
	jsoniter "github.com/json-iterator/go"
)

type CachedClient interface {
	GetRateLimit(string) (*model.RateLimitState, error)
	SaveRateLimit(string, *model.RateLimitState) error
	Close()
}

// memcacheAPI is the part of *memcache.Client the rate-limit store uses.
type memcacheAPI interface {
	Get(key string) (*memcache.Item, error)
	Set(item *memcache.Item) error
	Close() error
}

type MemcachedClient struct {
	client memcacheAPI
	cfg    *config.CacheConfig
}

func NewMemcachedClient(cacheConfig *config.CacheConfig) *MemcachedClient {
	slog.Info("connecting to memcached...")
	ss := new(memcache.ServerList)
	err := ss.SetServers(cacheConfig.Servers...)
	if err != nil {
		slog.Error("failed to set memcached servers.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	client := memcache.NewFromSelector(ss)
	slog.Info("pinging the memcached.")
	err = client.Ping()
	if err != nil {
		slog.Error("connection to the memcached is failed.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	slog.Info("connected to memcached!")

	return newMemcachedClient(client, cacheConfig)
}

func newMemcachedClient(client memcacheAPI, cacheConfig *config.CacheConfig) *MemcachedClient {
	return &MemcachedClient{
		client: client,
		cfg:    cacheConfig,
	}
}

// GetRateLimit returns nil without an error when the requester has no state yet.
func (mc *MemcachedClient) GetRateLimit(ip string) (*model.RateLimitState, error) {
	key := rateLimitKey(ip)
	item, err := mc.client.Get(key)
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			slog.Debug("rate limit state not found.", slog.String("key", key))
			return nil, nil
		}
		return nil, fmt.Errorf("get rate limit state: %w", err)
	}

	var state model.RateLimitState
	if err := jsoniter.Unmarshal(item.Value, &state); err != nil {
		return nil, fmt.Errorf("decode rate limit state: %w", err)
	}

	return &state, nil
}

func (mc *MemcachedClient) SaveRateLimit(ip string, state *model.RateLimitState) error {
	key := rateLimitKey(ip)
	if err := mc.set(key, state, int32(mc.cfg.TtlRateLimit.Seconds())); err != nil {
		return fmt.Errorf("save rate limit state: %w", err)
	}
	slog.Debug("rate limit state saved to cache.", slog.String("key", key),
		slog.Int("count", state.MessageCount))

	return nil
}

func (mc *MemcachedClient) Close() {
	slog.Info("closing memcached connection.")
	err := mc.client.Close()
	if err != nil {
		slog.Error("failed to close memcached connection.", slog.String("err", err.Error()))
	}
}

func (mc *MemcachedClient) set(key string, value any, expiration int32) error {
	byteValue, err := jsoniter.Marshal(value)
	if err != nil {
		return err
	}
	item := &memcache.Item{
		Key:        key,
		Value:      byteValue,
		Expiration: expiration,
	}

	return mc.client.Set(item)
}

// Requester ids are client IPs; hashing keeps IPv6 colons and proxy junk out of memcached keys.
func rateLimitKey(ip string) string {
	return fmt.Sprintf("%s-rate-limit", internal.HashKey(ip))
}
