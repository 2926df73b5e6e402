// Package cache stores query embeddings in Redis so repeated searches skip
// the provider round trip.
package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

const (
	KeyPattern     = "meetsearch:embedding:%s"
	DefaultTTL     = 24 * time.Hour
	defaultTimeout = 250 * time.Millisecond
)

// VectorCache implements ai.VectorCache on top of Redis. Cache failures are
// logged and treated as misses.
type VectorCache struct {
	client  *redis.Client
	ttl     time.Duration
	timeout time.Duration
}

// NewVectorCache connects to the Redis instance at url (redis://host:port/db).
func NewVectorCache(ctx context.Context, url string, ttl time.Duration) (*VectorCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, ttl), nil
}

// New wraps an existing client.
func New(client *redis.Client, ttl time.Duration) *VectorCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &VectorCache{client: client, ttl: ttl, timeout: defaultTimeout}
}

func (c *VectorCache) Get(ctx context.Context, key string) ([]float32, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	b, err := c.client.Get(ctx, fmt.Sprintf(KeyPattern, key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Msg("embedding cache get failed")
		}
		return nil, false
	}
	vec, err := decode(b)
	if err != nil {
		log.Warn().Err(err).Msg("embedding cache entry corrupt")
		return nil, false
	}
	return vec, true
}

func (c *VectorCache) Set(ctx context.Context, key string, vec []float32) {
	if len(vec) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.client.Set(ctx, fmt.Sprintf(KeyPattern, key), encode(vec), c.ttl).Err(); err != nil {
		log.Warn().Err(err).Msg("embedding cache set failed")
	}
}

func (c *VectorCache) Close() error {
	return c.client.Close()
}

// encode packs vec as little-endian float32s.
func encode(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decode(b []byte) ([]float32, error) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid vector length %d", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}
