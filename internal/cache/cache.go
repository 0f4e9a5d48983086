// Package cache memoizes simulation result envelopes in Redis, keyed by the
// portfolio plan digest and the run parameters. Identical deterministic runs
// are served from the cache instead of resimulating.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/crml-dev/crmlrun/internal/lang"
	"github.com/crml-dev/crmlrun/internal/plan"
)

// ResultCache stores result envelopes with a TTL.
type ResultCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// New builds a cache over an existing Redis client.
func New(client redis.Cmdable, ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ResultCache{client: client, ttl: ttl}
}

// Connect dials Redis and verifies the connection.
func Connect(ctx context.Context, addr string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Key derives a deterministic cache key from the plan and the run parameters.
// Only seeded runs are cacheable; unseeded runs are never deterministic.
func Key(p *plan.ExecutionPlan, runs int, seed *int64, outputCurrency string) (string, bool) {
	if seed == nil {
		return "", false
	}
	payload, err := json.Marshal(struct {
		Plan     *plan.ExecutionPlan `json:"plan"`
		Runs     int                 `json:"runs"`
		Seed     int64               `json:"seed"`
		Currency string              `json:"currency"`
	}{p, runs, *seed, outputCurrency})
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(payload)
	return "crmlrun:result:" + hex.EncodeToString(sum[:]), true
}

// Get returns the cached envelope for key, or nil on miss. Cache failures are
// logged and reported as misses; the simulation must never fail because the
// cache is down.
func (c *ResultCache) Get(ctx context.Context, key string) *lang.ResultEnvelope {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		log.Warn().Err(err).Msg("Result cache read failed")
		return nil
	}
	var env lang.ResultEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Msg("Discarding undecodable cached result")
		return nil
	}
	return &env
}

// Put stores an envelope under key. Failures are logged, not returned.
func (c *ResultCache) Put(ctx context.Context, key string, env *lang.ResultEnvelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to marshal result for cache")
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Msg("Result cache write failed")
	}
}
