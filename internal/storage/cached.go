package storage

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	coreprocessor "github.com/recipebot/internal/core_processor"
)

// DefaultInstallationTTL bounds how long a changed secret can go unnoticed.
const DefaultInstallationTTL = time.Minute

// CachedStore memoizes installation lookups made on every webhook. All other
// calls go straight to the wrapped store.
type CachedStore struct {
	Store
	cache *cache.Cache
}

func NewCachedStore(inner Store, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultInstallationTTL
	}
	return &CachedStore{Store: inner, cache: cache.New(ttl, 2*ttl)}
}

func accountKey(platform, accountID string) string {
	return platform + "/" + accountID
}

func (c *CachedStore) InstallationByAccount(ctx context.Context, platform, accountID string) (*coreprocessor.Installation, error) {
	key := accountKey(platform, accountID)
	if v, ok := c.cache.Get(key); ok {
		inst := v.(coreprocessor.Installation)
		return &inst, nil
	}
	inst, err := c.Store.InstallationByAccount(ctx, platform, accountID)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, *inst)
	return inst, nil
}

func (c *CachedStore) SaveInstallation(ctx context.Context, inst *coreprocessor.Installation) error {
	if existing, err := c.Store.GetInstallation(ctx, inst.ID); err == nil {
		c.cache.Delete(accountKey(existing.Platform, existing.AccountID))
	}
	if err := c.Store.SaveInstallation(ctx, inst); err != nil {
		return err
	}
	c.cache.Delete(accountKey(inst.Platform, inst.AccountID))
	return nil
}
