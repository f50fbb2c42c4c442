package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCacheTTL bounds how stale a compiled permission set may get when the
// CRUD layer forgets to invalidate.
const DefaultCacheTTL = 30 * time.Minute

// PermissionCache stores compiled permission sets in Redis. It never compiles;
// on a miss the caller compiles and calls Put. Duplicate writes are harmless
// because compilation is deterministic.
type PermissionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPermissionCache constructs a cache with the given TTL; a non-positive TTL
// falls back to DefaultCacheTTL.
func NewPermissionCache(client *redis.Client, ttl time.Duration) *PermissionCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &PermissionCache{client: client, ttl: ttl}
}

// Key renders the cache key for a user/tenant pair.
func (c *PermissionCache) Key(userID, tenantID string) string {
	return fmt.Sprintf("auth:permissions:%s:%s", userID, tenantID)
}

// Get fetches the cached set. The second return reports a hit; a corrupt
// payload counts as a miss and the bad entry is dropped.
func (c *PermissionCache) Get(ctx context.Context, userID, tenantID string) (PermissionSet, bool, error) {
	payload, err := c.client.Get(ctx, c.Key(userID, tenantID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("authz: cache get: %w", err)
	}

	var tokens []string
	if err := json.Unmarshal(payload, &tokens); err != nil {
		_ = c.client.Del(ctx, c.Key(userID, tenantID)).Err()
		return nil, false, nil
	}
	return NewPermissionSet(tokens...), true, nil
}

// Put stores the set as a JSON array of sorted tokens with the configured TTL.
func (c *PermissionCache) Put(ctx context.Context, userID, tenantID string, set PermissionSet) error {
	payload, err := json.Marshal(set.Tokens())
	if err != nil {
		return fmt.Errorf("authz: cache encode: %w", err)
	}
	if err := c.client.Set(ctx, c.Key(userID, tenantID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("authz: cache put: %w", err)
	}
	return nil
}

// Invalidate drops the cached set for a user/tenant pair. The CRUD layer must
// call this after mutating any row reachable from the user's graph.
func (c *PermissionCache) Invalidate(ctx context.Context, userID, tenantID string) error {
	if err := c.client.Del(ctx, c.Key(userID, tenantID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("authz: cache invalidate: %w", err)
	}
	return nil
}
