package pipeline

import (
	"sync"

	"github.com/huandu/skiplist"

	"github.com/dxos/dxos-sub075/echo/feedstore"
)

// reorderBuffer keeps out of order blocks of one admitted feed sorted by seq
type reorderBuffer struct {
	maxBlocks int
	mu        sync.Mutex
	sl        *skiplist.SkipList
}

func newReorderBuffer(maxBlocks int) *reorderBuffer {
	rb := &reorderBuffer{maxBlocks: maxBlocks}
	rb.sl = skiplist.New(rb)
	return rb
}

// Compare implements skiplist interface
func (rb *reorderBuffer) Compare(lhs, rhs interface{}) int {
	l, r := lhs.(uint64), rhs.(uint64)
	if l == r {
		return 0
	}
	if l > r {
		return 1
	}
	return -1
}

// CalcScore implements skiplist interface
func (rb *reorderBuffer) CalcScore(key interface{}) float64 {
	return float64(key.(uint64))
}

// Put stores a block ahead of the feed end, it returns false when the buffer is full
func (rb *reorderBuffer) Put(b feedstore.Block) bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.sl.Get(b.Seq) != nil {
		return true
	}
	if rb.sl.Len() >= rb.maxBlocks {
		return false
	}
	rb.sl.Set(b.Seq, b)
	return true
}

// PopContiguous removes and returns blocks continuing the feed of the given length.
// Stale blocks at or below the length are discarded.
func (rb *reorderBuffer) PopContiguous(length uint64) (res []feedstore.Block) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	next := length + 1
	for el := rb.sl.Front(); el != nil; el = rb.sl.Front() {
		seq := el.Key().(uint64)
		if seq > next {
			break
		}
		rb.sl.Remove(seq)
		if seq == next {
			res = append(res, el.Value.(feedstore.Block))
			next++
		}
	}
	return
}

func (rb *reorderBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.sl.Len()
}
