package utils

import (
	"context"       // Context for Redis operations
	"encoding/json" // JSON encoding/decoding
	"strconv"       // Key building
	"time"          // Time durations

	"github.com/redis/go-redis/v9" // Redis client
)

// Cache TTLs. Balances are also invalidated on every ledger mutation,
// so the TTL only bounds staleness after a missed invalidation.
const (
	BalanceTTL = 60 * time.Second
	AuditTTL   = 30 * time.Second
)

// BalanceKey is the cache key for a wallet's account snapshot
func BalanceKey(wallet string) string {
	return "balance:" + wallet
}

// AuditKey is the cache key for one page of a wallet's audit trail
func AuditKey(wallet string, limit, offset int) string {
	return "audit:" + wallet + ":" + strconv.Itoa(limit) + ":" + strconv.Itoa(offset)
}

// AdminAuditKey is the cache key for one page of the admin audit
// listing; wallet may be empty for the unfiltered view
func AdminAuditKey(wallet string, limit, offset int) string {
	return "admin:audit:" + wallet + ":" + strconv.Itoa(limit) + ":" + strconv.Itoa(offset)
}

// GetCache retrieves a value from Redis and unmarshals it into dest
func GetCache(ctx context.Context, rdb *redis.Client, key string, dest any) (bool, error) {
	val, err := rdb.Get(ctx, key).Result() // Get value from Redis
	if err == redis.Nil {
		return false, nil // Key does not exist
	} else if err != nil {
		return false, err // Other Redis error
	}
	return true, json.Unmarshal([]byte(val), dest) // Unmarshal JSON into dest
}

// SetCache sets a value in Redis with a specified TTL
func SetCache(ctx context.Context, rdb *redis.Client, key string, value any, ttl time.Duration) error {
	b, err := json.Marshal(value) // Marshal value to JSON
	if err != nil {
		return err // Return error if marshaling fails
	}
	return rdb.Set(ctx, key, b, ttl).Err() // Set value in Redis with TTL
}

// DeleteCache deletes a key from Redis
func DeleteCache(ctx context.Context, rdb *redis.Client, key string) error {
	return rdb.Del(ctx, key).Err() // Delete key from Redis
}
