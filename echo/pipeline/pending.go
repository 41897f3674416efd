package pipeline

import (
	"sort"
	"sync"
	"time"

	"github.com/dxos/dxos-sub075/echo/feedstore"
)

type pendingBlock struct {
	feedstore.Block
	added time.Time
}

// pendingArena holds blocks of feeds that are not admitted yet
type pendingArena struct {
	maxBlocks int
	maxAge    time.Duration
	now       func() time.Time

	mu     sync.Mutex
	blocks map[string][]pendingBlock
	size   int
}

func newPendingArena(maxBlocks int, maxAge time.Duration) *pendingArena {
	return &pendingArena{
		maxBlocks: maxBlocks,
		maxAge:    maxAge,
		now:       time.Now,
		blocks:    make(map[string][]pendingBlock),
	}
}

// Add buffers the block, it returns false when the arena is full
func (pa *pendingArena) Add(b feedstore.Block) bool {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	for _, pb := range pa.blocks[b.FeedKey] {
		if pb.Seq == b.Seq {
			return true
		}
	}
	if pa.size >= pa.maxBlocks {
		return false
	}
	pa.blocks[b.FeedKey] = append(pa.blocks[b.FeedKey], pendingBlock{Block: b, added: pa.now()})
	pa.size++
	return true
}

// Take removes and returns the feed blocks ordered by seq
func (pa *pendingArena) Take(feedKey string) []feedstore.Block {
	pa.mu.Lock()
	pbs := pa.blocks[feedKey]
	delete(pa.blocks, feedKey)
	pa.size -= len(pbs)
	pa.mu.Unlock()

	res := make([]feedstore.Block, 0, len(pbs))
	for _, pb := range pbs {
		res = append(res, pb.Block)
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].Seq < res[j].Seq
	})
	return res
}

// Evict drops blocks older than maxAge and returns the number of dropped blocks
func (pa *pendingArena) Evict() (dropped int) {
	deadline := pa.now().Add(-pa.maxAge)
	pa.mu.Lock()
	defer pa.mu.Unlock()
	for key, pbs := range pa.blocks {
		kept := pbs[:0]
		for _, pb := range pbs {
			if pb.added.Before(deadline) {
				dropped++
				continue
			}
			kept = append(kept, pb)
		}
		if len(kept) == 0 {
			delete(pa.blocks, key)
		} else {
			pa.blocks[key] = kept
		}
	}
	pa.size -= dropped
	return
}

func (pa *pendingArena) Len() int {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	return pa.size
}
