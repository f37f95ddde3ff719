package cache

import (
	"time"

	"github.com/smallbiznis/billingops/internal/config"
)

// Owner is a resolved DAC person, denormalized onto invoices.
type Owner struct {
	ID       int64
	Name     any
	Document any
}

// OwnerCache stores owner lookups for enrichment.
type OwnerCache interface {
	GetOwner(id int64) (Owner, bool)
	SetOwner(owner Owner)
}

type ownerCache struct {
	owners Cache[int64, Owner]
}

func NewOwnerCache(size int, ttl time.Duration) OwnerCache {
	return &ownerCache{owners: NewLRU[int64, Owner](size, ttl)}
}

// ProvideOwnerCache builds the process-wide owner cache from configuration.
func ProvideOwnerCache(cfg config.Config) OwnerCache {
	return NewOwnerCache(cfg.OwnerCacheSize, cfg.OwnerCacheTTL)
}

func (c *ownerCache) GetOwner(id int64) (Owner, bool) {
	return c.owners.Get(id)
}

// SetOwner ignores owners without an id or without any resolved field.
func (c *ownerCache) SetOwner(owner Owner) {
	if owner.ID <= 0 || (owner.Name == nil && owner.Document == nil) {
		return
	}
	c.owners.Set(owner.ID, owner)
}
