package policy

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// membershipCache memoizes membership lookups per (user, project).
// Only positive results are cached so a new membership is visible at once.
type membershipCache struct {
	cache   *lru.LRU[string, Membership]
	observe func(hit bool)
}

func newMembershipCache(size int, ttl time.Duration) *membershipCache {
	if size <= 0 {
		return nil
	}
	return &membershipCache{
		cache: lru.NewLRU[string, Membership](size, nil, ttl),
	}
}

func cacheKey(userID, projectID string) string {
	return userID + "\x00" + projectID
}

func (c *membershipCache) get(userID, projectID string) (*Membership, bool) {
	if c == nil {
		return nil, false
	}
	m, ok := c.cache.Get(cacheKey(userID, projectID))
	if c.observe != nil {
		c.observe(ok)
	}
	if !ok {
		return nil, false
	}
	return &m, true
}

func (c *membershipCache) add(m *Membership) {
	if c == nil || m == nil {
		return
	}
	c.cache.Add(cacheKey(m.UserID, m.ProjectID), *m)
}

func (c *membershipCache) remove(userID, projectID string) {
	if c == nil {
		return
	}
	c.cache.Remove(cacheKey(userID, projectID))
}

func (c *membershipCache) purge() {
	if c == nil {
		return
	}
	c.cache.Purge()
}
