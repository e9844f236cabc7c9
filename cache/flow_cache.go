package cache

import (
	"fmt"
	"time"

	"github.com/mohitkumar/flowgate/flow"
	c "github.com/patrickmn/go-cache"
)

// FlowCache keeps compiled flows by workflow id and version. Versions are
// immutable once stored, so entries only leave the cache by expiry.
type FlowCache struct {
	cache *c.Cache
}

func NewFlowCache(ttl time.Duration) *FlowCache {
	if ttl <= 0 {
		ttl = c.NoExpiration
	}
	return &FlowCache{
		cache: c.New(ttl, 10*time.Minute),
	}
}

func key(workflowID string, version int) string {
	return fmt.Sprintf("%s:%d", workflowID, version)
}

func (ch *FlowCache) Save(fl *flow.Flow) {
	ch.cache.Set(key(fl.Definition.ID, fl.Definition.Version), fl, c.DefaultExpiration)
}

func (ch *FlowCache) Get(workflowID string, version int) (*flow.Flow, bool) {
	v, found := ch.cache.Get(key(workflowID, version))
	if !found {
		return nil, false
	}
	return v.(*flow.Flow), true
}

func (ch *FlowCache) Len() int {
	return ch.cache.ItemCount()
}
