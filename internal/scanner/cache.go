package scanner

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const watchedAddressesKey = "wallet_addresses"

// addressCache is the in-memory set of assigned deposit addresses the
// scanner matches transfer events against. When Redis is configured
// the set is mirrored there so other processes can share it.
type addressCache struct {
	mu        sync.RWMutex
	addresses map[string]struct{}
	redis     *redis.Client
}

func newAddressCache(rdb *redis.Client) *addressCache {
	return &addressCache{
		addresses: make(map[string]struct{}),
		redis:     rdb,
	}
}

// Replace swaps the full set in one step. Used on startup and on the
// periodic refresh from the database.
func (c *addressCache) Replace(ctx context.Context, addresses []string) {
	next := make(map[string]struct{}, len(addresses))
	for _, a := range addresses {
		next[a] = struct{}{}
	}

	c.mu.Lock()
	c.addresses = next
	c.mu.Unlock()

	if c.redis != nil && len(addresses) > 0 {
		members := make([]interface{}, len(addresses))
		for i, a := range addresses {
			members[i] = a
		}
		if err := c.redis.SAdd(ctx, watchedAddressesKey, members...).Err(); err != nil {
			zap.L().Warn("Unable to mirror address cache to redis", zap.Error(err))
		}
	}
}

// Add registers one newly assigned address without waiting for the
// next full refresh.
func (c *addressCache) Add(ctx context.Context, address string) {
	c.mu.Lock()
	c.addresses[address] = struct{}{}
	c.mu.Unlock()

	if c.redis != nil {
		if err := c.redis.SAdd(ctx, watchedAddressesKey, address).Err(); err != nil {
			zap.L().Warn("Unable to mirror address to redis", zap.Error(err))
		}
	}
}

func (c *addressCache) Contains(address string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.addresses[address]
	return ok
}

func (c *addressCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.addresses)
}
