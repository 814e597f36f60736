package history

import (
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/supabase-community/supabase-go"
)

// StoreType represents the type of history store.
type StoreType string

const (
	StoreTypeMemory   StoreType = "memory"
	StoreTypeSupabase StoreType = "supabase"
	StoreTypeRedis    StoreType = "redis"
)

// StoreOption is a functional option for configuring a history store.
type StoreOption func(*storeConfig)

type storeConfig struct {
	maxEntries     int
	redisClient    *redis.Client
	redisTTL       time.Duration
	supabaseClient *supabase.Client
	supabaseTable  string
}

// WithMaxEntries caps how many turns a store keeps per session.
func WithMaxEntries(n int) StoreOption {
	return func(c *storeConfig) {
		c.maxEntries = n
	}
}

// WithRedisClient sets the Redis client for the Redis store.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithRedisTTL sets the TTL for Redis history keys.
func WithRedisTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.redisTTL = ttl
	}
}

// WithSupabaseClient sets the client for the Supabase store.
func WithSupabaseClient(client *supabase.Client) StoreOption {
	return func(c *storeConfig) {
		c.supabaseClient = client
	}
}

// WithSupabaseTable overrides the Supabase table name.
func WithSupabaseTable(table string) StoreOption {
	return func(c *storeConfig) {
		c.supabaseTable = table
	}
}

// NewStore creates a Store of the given type.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	config := &storeConfig{}
	for _, opt := range opts {
		opt(config)
	}

	switch storeType {
	case StoreTypeMemory, "":
		return NewMemoryStore(config.maxEntries), nil

	case StoreTypeSupabase:
		if config.supabaseClient == nil {
			return nil, ErrInvalidConfig
		}
		return NewSupabaseStoreWithClient(config.supabaseClient, config.supabaseTable), nil

	case StoreTypeRedis:
		if config.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return NewRedisStore(config.redisClient, config.redisTTL, config.maxEntries), nil

	default:
		return nil, ErrInvalidStoreType
	}
}
