package chainsource

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/chainsource/lnchain/chainio"
)

// cachedHeader is one entry in a boundedHeaderCache.
type cachedHeader struct {
	hash   chainhash.Hash
	header *wire.BlockHeader
	height int32
}

// boundedHeaderCache remembers the last `capacity` connected block headers
// so synchronizeListeners can detect a reorg (the header it has cached for
// a height no longer matches the chain) without re-fetching history past
// its look-back window. The cache and the synchronization walk live
// together here rather than in a separate poller task, since there's only
// one goroutine driving both.
type boundedHeaderCache struct {
	capacity int
	byHeight map[int32]cachedHeader
	order    []int32
}

func newBoundedHeaderCache(capacity int) *boundedHeaderCache {
	return &boundedHeaderCache{
		capacity: capacity,
		byHeight: make(map[int32]cachedHeader),
	}
}

func (c *boundedHeaderCache) push(h cachedHeader) {
	if _, exists := c.byHeight[h.height]; !exists {
		c.order = append(c.order, h.height)
	}
	c.byHeight[h.height] = h

	for len(c.order) > c.capacity {
		evictHeight := c.order[0]
		c.order = c.order[1:]
		delete(c.byHeight, evictHeight)
	}
}

// disconnectDownTo removes every cached entry above height, returning them
// in descending height order so the caller can replay BlockDisconnected
// calls in the right sequence.
func (c *boundedHeaderCache) disconnectDownTo(height int32) []cachedHeader {
	var disconnected []cachedHeader
	for h, entry := range c.byHeight {
		if h > height {
			disconnected = append(disconnected, entry)
		}
	}
	for i := 0; i < len(disconnected); i++ {
		for j := i + 1; j < len(disconnected); j++ {
			if disconnected[j].height > disconnected[i].height {
				disconnected[i], disconnected[j] = disconnected[j], disconnected[i]
			}
		}
	}
	for _, d := range disconnected {
		delete(c.byHeight, d.height)
	}
	newOrder := c.order[:0]
	for _, h := range c.order {
		if h <= height {
			newOrder = append(newOrder, h)
		}
	}
	c.order = newOrder
	return disconnected
}

// synchronizeListeners brings every listener from the worst-synced best
// block to tip, calling BlockDisconnected for any cached header found to
// have been reorged out, then a single BlockConnected with the tip header
// at tipHeight. The headers between worst and tip are not fetched, and
// the heights between them are not reported to listeners; this is a
// deliberate simplification, acceptable because the collaborators here
// only care about which transactions confirmed and at what final height,
// not about observing every intermediate header.
func (c *boundedHeaderCache) synchronizeListeners(worst chainio.BestBlock,
	tip *wire.BlockHeader, tipHeight int32, listeners []chainio.Listen) error {

	tipHash := tip.BlockHash()

	if cached, ok := c.byHeight[worst.Height]; ok && cached.hash != worst.Hash {
		for _, d := range c.disconnectDownTo(worst.Height - 1) {
			for _, l := range listeners {
				l.BlockDisconnected(d.header, d.height)
			}
		}
	}

	if tipHeight < worst.Height {
		return fmt.Errorf("chain tip height %d behind worst-synced height %d", tipHeight, worst.Height)
	}

	if tipHeight == worst.Height {
		return nil
	}

	for _, l := range listeners {
		l.BlockConnected(tip, tipHeight)
	}
	c.push(cachedHeader{hash: tipHash, header: tip, height: tipHeight})
	return nil
}
