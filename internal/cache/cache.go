// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package cache stores scope results in Redis keyed by the canonical digest
// of the input record. Analysis is deterministic for a given record and
// reference table set, so a hit can be returned without re-running the
// pipeline.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/pdiddy/medscope/internal/scope"
	"github.com/pdiddy/medscope/pkg/types"
)

// DefaultTTL applies when the configuration leaves TTL unset.
const DefaultTTL = time.Hour

// DefaultPrefix applies when the configuration leaves Prefix unset.
const DefaultPrefix = "medscope:scope:"

// Analyzer is the part of scope.Engine the cache wraps.
type Analyzer interface {
	Analyze(ctx context.Context, rec types.PatientRecord) (*types.ScopeResult, error)
}

// Cache is a read-through result cache.
type Cache struct {
	client    *redis.Client
	ttl       time.Duration
	prefix    string
	namespace string
	log       *zap.Logger
}

// entry is the stored form; it keeps the per-selection detail that the
// public JSON form of ScopeResult omits.
type entry struct {
	Result     *types.ScopeResult       `json:"result"`
	Selections []types.SectionSelection `json:"selections"`
}

// New wraps an existing client. namespace separates results computed under
// different reference tables and is typically their fingerprint.
func New(client *redis.Client, cfg types.CacheConfig, namespace string, log *zap.Logger) *Cache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{client: client, ttl: ttl, prefix: prefix, namespace: namespace, log: log.Named("cache")}
}

// Dial connects to the configured Redis server and checks it responds.
func Dial(ctx context.Context, cfg types.CacheConfig, namespace string, log *zap.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis %s: %w", cfg.Addr, err)
	}
	return New(client, cfg, namespace, log), nil
}

// Close releases the Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Key returns the Redis key for a record fingerprint.
func (c *Cache) Key(fingerprint string) string {
	if c.namespace == "" {
		return c.prefix + fingerprint
	}
	return c.prefix + c.namespace + ":" + fingerprint
}

// Get returns the cached result for a fingerprint. A miss returns (nil, false, nil).
func (c *Cache) Get(ctx context.Context, fingerprint string) (*types.ScopeResult, bool, error) {
	data, err := c.client.Get(ctx, c.Key(fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cached result: %w", err)
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, false, fmt.Errorf("decoding cached result: %w", err)
	}
	if e.Result == nil {
		return nil, false, errors.New("cached entry has no result")
	}
	e.Result.Selections = e.Selections
	return e.Result, true, nil
}

// Put stores a result under a fingerprint.
func (c *Cache) Put(ctx context.Context, fingerprint string, res *types.ScopeResult) error {
	data, err := json.Marshal(entry{Result: res, Selections: res.Selections})
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	if err := c.client.Set(ctx, c.Key(fingerprint), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("writing cached result: %w", err)
	}
	return nil
}

// Analyze returns the cached result for rec, or runs a and caches its result.
// The boolean reports a cache hit. Redis failures are logged and never fail
// the analysis. Errors from a are returned and not cached.
func (c *Cache) Analyze(ctx context.Context, a Analyzer, rec types.PatientRecord) (*types.ScopeResult, bool, error) {
	fp, err := scope.Fingerprint(rec)
	if err != nil {
		res, err := a.Analyze(ctx, rec)
		return res, false, err
	}

	res, hit, err := c.Get(ctx, fp)
	if err != nil {
		c.log.Warn("cache read failed", zap.String("patient_id", rec.PatientID), zap.Error(err))
	}
	if hit {
		return res, true, nil
	}

	res, err = a.Analyze(ctx, rec)
	if err != nil {
		return nil, false, err
	}
	if err := c.Put(ctx, fp, res); err != nil {
		c.log.Warn("cache write failed", zap.String("patient_id", rec.PatientID), zap.Error(err))
	}
	return res, false, nil
}
