package cache

import (
	"strings"
	"time"
)

const defaultAccountTTL = 10 * time.Minute

// AccountCache remembers which accounts have already been initialized so the
// first-touch upsert can be skipped on the hot debit path. Entries expire so
// a dropped account (test cleanup) is re-created on the next touch.
type AccountCache interface {
	Known(userID string) bool
	MarkKnown(userID string)
	Forget(userID string)
}

type accountCache struct {
	known Cache[string, struct{}]
	ttl   time.Duration
}

// NewAccountCache returns an in-memory account existence cache.
func NewAccountCache() AccountCache {
	return &accountCache{
		known: NewTTLCache[string, struct{}](),
		ttl:   defaultAccountTTL,
	}
}

func (c *accountCache) Known(userID string) bool {
	_, ok := c.known.Get(normalizeKey(userID))
	return ok
}

func (c *accountCache) MarkKnown(userID string) {
	key := normalizeKey(userID)
	if key == "" {
		return
	}
	c.known.Set(key, struct{}{}, c.ttl)
}

func (c *accountCache) Forget(userID string) {
	c.known.Delete(normalizeKey(userID))
}

func normalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
