package model

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash"
	"go.uber.org/zap"

	"github.com/dxos/dxos-sub075/app/logger"
	"github.com/dxos/dxos-sub075/echo/mutation"
)

var log = logger.NewNamed("echo.model")

// Item is a detached copy of a live item
type Item struct {
	ID    string
	Type  string
	State map[string]any
}

type Predicate func(it Item) bool

type liveItem struct {
	id      string
	typ     string
	model   Model
	errored bool
}

// Runtime owns the items of one party. ProcessMessage must be called from a single goroutine
// in pipeline order, reads are safe from any goroutine.
type Runtime struct {
	registry *Registry
	log      logger.CtxLogger

	mu      sync.RWMutex
	items   map[string]*liveItem
	deleted map[string]struct{}
	clock   uint64
}

func NewRuntime(registry *Registry, partyKey string) *Runtime {
	return &Runtime{
		registry: registry,
		log:      log.With(zap.String("partyKey", partyKey)),
		items:    make(map[string]*liveItem),
		deleted:  make(map[string]struct{}),
	}
}

// ProcessMessage folds one ordered message into item state.
// It reports whether visible state may have changed. Unknown types and types other than the one
// the item was created with are dropped, decode errors mark the item errored. None is returned as an error.
func (r *Runtime) ProcessMessage(msg Message) (changed bool) {
	env := msg.Envelope
	r.mu.Lock()
	defer r.mu.Unlock()
	if env.Clock > r.clock {
		r.clock = env.Clock
	}
	if _, ok := r.deleted[env.ItemID]; ok {
		return false
	}
	it, ok := r.items[env.ItemID]
	if env.Tombstone {
		delete(r.items, env.ItemID)
		r.deleted[env.ItemID] = struct{}{}
		return ok
	}
	if !ok {
		if !r.registry.Has(env.ItemType) {
			r.dropMessage(msg, "dropping mutation of unknown model type")
			return false
		}
		m, _ := r.registry.New(env.ItemType)
		it = &liveItem{id: env.ItemID, typ: env.ItemType, model: m}
		r.items[env.ItemID] = it
	} else if env.ItemType != "" && env.ItemType != it.typ {
		r.dropMessage(msg, "dropping mutation of mismatched model type")
		return false
	}
	if it.errored {
		return false
	}
	if err := it.model.ProcessMessage(msg); err != nil {
		if !errors.Is(err, mutation.ErrDecode) {
			r.log.Error("model failed to process message", zap.String("itemId", it.id), zap.Error(err))
		} else {
			r.log.Warn("item marked as errored", zap.String("itemId", it.id), zap.Error(err))
		}
		it.errored = true
	}
	return true
}

func (r *Runtime) dropMessage(msg Message, reason string) {
	r.log.Warn(reason,
		zap.String("itemId", msg.Envelope.ItemID),
		zap.String("itemType", msg.Envelope.ItemType),
		zap.String("feedKey", msg.FeedKey),
		zap.Uint64("seq", msg.Seq))
}

// Write synthesizes an envelope for a local change. The envelope is not applied here,
// it must go through the pipeline like any other message.
func (r *Runtime) Write(itemID, itemType string, changes map[string]any) (*mutation.MutationEnvelope, error) {
	m, err := mutation.MutationFromMap(changes)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.deleted[itemID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrItemDeleted, itemID)
	}
	if it, ok := r.items[itemID]; ok {
		itemType = it.typ
	}
	if !r.registry.Has(itemType) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, itemType)
	}
	if r.clock >= mutation.MaxClock {
		return nil, ErrClockOverflow
	}
	return &mutation.MutationEnvelope{
		ItemID:   itemID,
		ItemType: itemType,
		Mutation: m,
		Clock:    r.clock + 1,
	}, nil
}

// Delete synthesizes a tombstone envelope
func (r *Runtime) Delete(itemID string) (*mutation.MutationEnvelope, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	it, ok := r.items[itemID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	if r.clock >= mutation.MaxClock {
		return nil, ErrClockOverflow
	}
	return &mutation.MutationEnvelope{
		ItemID:    itemID,
		ItemType:  it.typ,
		Tombstone: true,
		Clock:     r.clock + 1,
	}, nil
}

// Clock returns the max lamport clock applied
func (r *Runtime) Clock() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clock
}

// Item returns a copy of a visible item
func (r *Runtime) Item(id string) (Item, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	it, ok := r.items[id]
	if !ok || it.errored {
		return Item{}, false
	}
	return it.copy(), true
}

// Items returns copies of visible items matching the predicate ordered by id
func (r *Runtime) Items(p Predicate) []Item {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := make([]Item, 0, len(r.items))
	for _, it := range r.items {
		if it.errored {
			continue
		}
		cp := it.copy()
		if p == nil || p(cp) {
			res = append(res, cp)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].ID < res[j].ID
	})
	return res
}

func (r *Runtime) IsErrored(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	it, ok := r.items[id]
	return ok && it.errored
}

func (it *liveItem) copy() Item {
	return Item{ID: it.id, Type: it.typ, State: it.model.State()}
}

// Hash is a digest of all item states, equal on replicas that applied the same blocks
func (r *Runtime) Hash() (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.items)+len(r.deleted))
	for id := range r.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	h := xxhash.New()
	for _, id := range ids {
		it := r.items[id]
		_, _ = h.Write([]byte(id))
		_, _ = h.Write([]byte(it.typ))
		if it.errored {
			_, _ = h.Write([]byte{0})
			continue
		}
		data, err := it.model.Snapshot()
		if err != nil {
			return 0, err
		}
		_, _ = h.Write([]byte{1})
		_, _ = h.Write(data)
	}
	deleted := make([]string, 0, len(r.deleted))
	for id := range r.deleted {
		deleted = append(deleted, id)
	}
	sort.Strings(deleted)
	for _, id := range deleted {
		_, _ = h.Write([]byte(id))
	}
	return h.Sum64(), nil
}

// Snapshot returns item states and tombstones. Errored items are kept with an empty state.
func (r *Runtime) Snapshot() (items []mutation.ItemSnapshot, deleted []string, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, it := range r.items {
		if it.errored {
			items = append(items, mutation.ItemSnapshot{ID: it.id, Type: it.typ})
			continue
		}
		var data []byte
		if data, err = it.model.Snapshot(); err != nil {
			return nil, nil, fmt.Errorf("item %s: %w", it.id, err)
		}
		items = append(items, mutation.ItemSnapshot{ID: it.id, Type: it.typ, State: data})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].ID < items[j].ID
	})
	for id := range r.deleted {
		deleted = append(deleted, id)
	}
	sort.Strings(deleted)
	return
}

// Restore replaces runtime state with a snapshot. Items of unknown types are skipped.
func (r *Runtime) Restore(s mutation.Snapshot) error {
	items := make(map[string]*liveItem, len(s.Items))
	for _, is := range s.Items {
		m, err := r.registry.New(is.Type)
		if err != nil {
			r.log.Warn("skip snapshot item", zap.String("itemId", is.ID), zap.Error(err))
			continue
		}
		it := &liveItem{id: is.ID, typ: is.Type, model: m}
		if len(is.State) == 0 {
			it.errored = true
		} else if err = m.Restore(is.State); err != nil {
			return fmt.Errorf("restore item %s: %w", is.ID, err)
		}
		items[is.ID] = it
	}
	deleted := make(map[string]struct{}, len(s.Deleted))
	for _, id := range s.Deleted {
		deleted[id] = struct{}{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = items
	r.deleted = deleted
	r.clock = s.Clock
	return nil
}
