package ocache

import (
	"context"
)

type entry struct {
	id      string
	load    chan struct{}
	loadErr error
	value   Object
	// closing is set under the cache lock when removal starts and closed when it's done
	closing chan struct{}
}

func newEntry(id string) *entry {
	return &entry{
		id:   id,
		load: make(chan struct{}),
	}
}

func (e *entry) isLoaded() bool {
	select {
	case <-e.load:
		return e.loadErr == nil
	default:
		return false
	}
}

func (e *entry) waitLoad(ctx context.Context) (value Object, err error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.load:
		return e.value, e.loadErr
	}
}
