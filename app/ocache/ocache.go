// Package ocache keeps loaded objects by id. Concurrent Gets of a missing id share one load.
package ocache

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/dxos/dxos-sub075/app/logger"
)

var (
	ErrClosed    = errors.New("object cache closed")
	ErrExists    = errors.New("object exists")
	ErrNotExists = errors.New("object not exists")
)

var log = logger.NewNamed("ocache")

type LoadFunc func(ctx context.Context, id string) (value Object, err error)

type Option func(*oCache)

func WithLogger(l logger.CtxLogger) Option {
	return func(cache *oCache) {
		cache.log = l
	}
}

type Object interface {
	Close(ctx context.Context) (err error)
}

type OCache interface {
	// Get returns the object from the cache or loads it via loadFunc.
	// When loadFunc returns an error the object is not stored and the next Get loads again.
	Get(ctx context.Context, id string) (value Object, err error)
	// Pick returns the object only if it's in the cache, loading or loaded
	Pick(ctx context.Context, id string) (value Object, err error)
	// Add stores an already loaded object, returns ErrExists when the id is taken
	Add(id string, value Object) (err error)
	// Remove closes and removes the object
	Remove(ctx context.Context, id string) (ok bool, err error)
	// ForEach iterates over loaded objects, breaks when the callback returns false
	ForEach(f func(id string, v Object) (isContinue bool))
	Len() int
	// Close closes all objects, the cache can't be used after
	Close(ctx context.Context) (err error)
}

func New(loadFunc LoadFunc, opts ...Option) OCache {
	c := &oCache{
		data:     make(map[string]*entry),
		loadFunc: loadFunc,
		log:      log,
	}
	for _, o := range opts {
		if o != nil {
			o(c)
		}
	}
	return c
}

type oCache struct {
	mu       sync.Mutex
	data     map[string]*entry
	loadFunc LoadFunc
	closed   bool
	log      logger.CtxLogger
	metrics  *metrics
}

func (c *oCache) Get(ctx context.Context, id string) (value Object, err error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return nil, ErrClosed
		}
		e, ok := c.data[id]
		if !ok {
			e = newEntry(id)
			c.data[id] = e
			c.mu.Unlock()
			c.metrics.lookup(lookupMiss)
			// the load outlives a waiter that gives up
			go c.load(context.WithoutCancel(ctx), e)
			return e.waitLoad(ctx)
		}
		closing := e.closing
		c.mu.Unlock()
		if closing == nil {
			c.metrics.lookup(lookupHit)
			return e.waitLoad(ctx)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-closing:
		}
	}
}

func (c *oCache) Pick(ctx context.Context, id string) (value Object, err error) {
	c.mu.Lock()
	e, ok := c.data[id]
	if !ok || e.closing != nil {
		c.mu.Unlock()
		return nil, ErrNotExists
	}
	c.mu.Unlock()
	c.metrics.lookup(lookupHit)
	return e.waitLoad(ctx)
}

func (c *oCache) load(ctx context.Context, e *entry) {
	defer close(e.load)
	value, err := c.loadFunc(ctx, e.id)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		e.loadErr = err
		delete(c.data, e.id)
		c.metrics.lookup(lookupFailed)
		c.log.DebugCtx(ctx, "object load failed", zap.String("id", e.id), zap.Error(err))
		return
	}
	e.value = value
}

func (c *oCache) Add(id string, value Object) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if _, ok := c.data[id]; ok {
		return ErrExists
	}
	e := newEntry(id)
	e.value = value
	close(e.load)
	c.data[id] = e
	return nil
}

func (c *oCache) Remove(ctx context.Context, id string) (ok bool, err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false, ErrClosed
	}
	e, ok := c.data[id]
	if !ok {
		c.mu.Unlock()
		return false, ErrNotExists
	}
	c.mu.Unlock()
	return c.remove(ctx, e)
}

func (c *oCache) remove(ctx context.Context, e *entry) (ok bool, err error) {
	if _, err = e.waitLoad(ctx); err != nil {
		return false, err
	}
	c.mu.Lock()
	if e.closing != nil {
		closing := e.closing
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-closing:
			return false, nil
		}
	}
	e.closing = make(chan struct{})
	c.mu.Unlock()

	err = e.value.Close(ctx)

	c.mu.Lock()
	if c.data[e.id] == e {
		delete(c.data, e.id)
	}
	close(e.closing)
	c.metrics.close()
	c.mu.Unlock()
	return true, err
}

func (c *oCache) ForEach(f func(id string, v Object) (isContinue bool)) {
	var entries []*entry
	c.mu.Lock()
	for _, e := range c.data {
		if e.closing == nil && e.isLoaded() {
			entries = append(entries, e)
		}
	}
	c.mu.Unlock()
	for _, e := range entries {
		if e.value == nil {
			continue
		}
		if !f(e.id, e.value) {
			return
		}
	}
}

func (c *oCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

func (c *oCache) Close(ctx context.Context) (err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.closed = true
	toClose := make([]*entry, 0, len(c.data))
	for _, e := range c.data {
		toClose = append(toClose, e)
	}
	c.mu.Unlock()
	for _, e := range toClose {
		if _, err := c.remove(ctx, e); err != nil {
			c.log.WarnCtx(ctx, "cache close: object close error", zap.String("id", e.id), zap.Error(err))
		}
	}
	return nil
}
