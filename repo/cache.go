package repo

import (
	"sync"

	"github.com/ocflkit/ocfl-go"
)

// invCache is a concurrent cache of object root inventories keyed by object
// id. openObject fills it and evicts entries whose digest differs from the
// details store record; it does not open objects from cached entries.
type invCache struct {
	mu   sync.RWMutex
	invs map[string]*ocfl.StoredInventory
}

func newInvCache() *invCache {
	return &invCache{invs: map[string]*ocfl.StoredInventory{}}
}

func (c *invCache) get(objectID string) (*ocfl.StoredInventory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	inv, ok := c.invs[objectID]
	return inv, ok
}

func (c *invCache) put(objectID string, inv *ocfl.StoredInventory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invs[objectID] = inv
}

func (c *invCache) evict(objectID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.invs, objectID)
}

func (c *invCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invs = map[string]*ocfl.StoredInventory{}
}
