// Package redis implements the Redis-backed results cache.
//
// Key components:
//   - Config / NewClient: connection setup shared with the event bus
//   - ResultsCache: encoded challenge results with TTL management
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds Redis connection configuration.
type Config struct {
	// Host is the Redis server hostname.
	Host string

	// Port is the Redis server port.
	Port int

	// Password is the Redis authentication password (empty if no auth).
	Password string

	// DB is the Redis database number (0-15).
	DB int

	// PoolSize is the maximum number of socket connections.
	PoolSize int

	// MinIdleConns is the minimum number of idle connections.
	MinIdleConns int

	// MaxRetries is the maximum number of retries before giving up.
	MaxRetries int

	// DialTimeout is the timeout for establishing new connections.
	DialTimeout time.Duration

	// ReadTimeout is the timeout for socket reads.
	ReadTimeout time.Duration

	// WriteTimeout is the timeout for socket writes.
	WriteTimeout time.Duration
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Host:         "localhost",
		Port:         6379,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Addr returns the Redis address in "host:port" format.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ErrCacheConnection is returned when Redis cannot be reached at startup.
var ErrCacheConnection = errors.New("cache: connection failed")

// NewClient opens a client and pings it.
func NewClient(cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
	}
	return client, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RESULTS CACHE
// ══════════════════════════════════════════════════════════════════════════════

// PrefixResults namespaces cached challenge results.
const PrefixResults = "medal-engine:results:"

// TTLResults bounds how stale a cached result can get if an invalidation
// is lost.
const TTLResults = 10 * time.Minute

// Cmdable is the subset of the go-redis API the cache uses.
type Cmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// ResultsCache stores encoded challenge results per challenge id.
// It implements query.ResultsCache and command.ResultsInvalidator.
type ResultsCache struct {
	client Cmdable
	ttl    time.Duration
}

// NewResultsCache creates a cache. A non-positive ttl selects TTLResults.
func NewResultsCache(client Cmdable, ttl time.Duration) *ResultsCache {
	if ttl <= 0 {
		ttl = TTLResults
	}
	return &ResultsCache{client: client, ttl: ttl}
}

// ResultsKey returns the key of a challenge's results.
func ResultsKey(challengeID int64) string {
	return PrefixResults + strconv.FormatInt(challengeID, 10)
}

// GetResults returns the cached bytes, or ok=false on a miss.
func (c *ResultsCache) GetResults(ctx context.Context, challengeID int64) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, ResultsKey(challengeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get results %d: %w", challengeID, err)
	}
	return data, true, nil
}

// SetResults stores data under the challenge's key.
func (c *ResultsCache) SetResults(ctx context.Context, challengeID int64, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("set results %d: empty value", challengeID)
	}
	if err := c.client.Set(ctx, ResultsKey(challengeID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set results %d: %w", challengeID, err)
	}
	return nil
}

// InvalidateResults drops the challenge's entry. Missing keys are fine.
func (c *ResultsCache) InvalidateResults(ctx context.Context, challengeID int64) error {
	if err := c.client.Del(ctx, ResultsKey(challengeID)).Err(); err != nil {
		return fmt.Errorf("invalidate results %d: %w", challengeID, err)
	}
	return nil
}
