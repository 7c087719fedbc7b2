package utxo

import (
	"time"

	"github.com/chronodrachma/utxod/pkg/core/types"
	"github.com/jellydator/ttlcache/v3"
)

// ownedOutput is an output matched to an owner during a scan, with its
// position in the indexed record.
type ownedOutput struct {
	TxID     string
	Position uint32
	Output   types.TransactionOutput
}

// ownerView is everything a scan learned about one owner.
type ownerView struct {
	outputs []ownedOutput
	report  ScanReport
}

// ownerCache holds per-owner views keyed by canonical address hex. It is
// emptied whenever the index is rebuilt, so cached answers always equal a
// fresh scan of the current index.
type ownerCache struct {
	views *ttlcache.Cache[string, *ownerView]
}

func newOwnerCache(ttl time.Duration, capacity uint64) *ownerCache {
	return &ownerCache{
		views: ttlcache.New[string, *ownerView](
			ttlcache.WithTTL[string, *ownerView](ttl),
			ttlcache.WithCapacity[string, *ownerView](capacity),
			ttlcache.WithDisableTouchOnHit[string, *ownerView](),
		),
	}
}

func (c *ownerCache) get(owner string) (*ownerView, bool) {
	item := c.views.Get(owner)
	if item == nil || item.IsExpired() {
		return nil, false
	}
	return item.Value(), true
}

func (c *ownerCache) set(owner string, view *ownerView) {
	c.views.Set(owner, view, ttlcache.DefaultTTL)
}

func (c *ownerCache) invalidate() {
	c.views.DeleteAll()
}

func (c *ownerCache) len() int {
	return c.views.Len()
}
