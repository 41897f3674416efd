package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/dxos/dxos-sub075/echo/model"
)

var ErrSubscriptionClosed = errors.New("subscription is closed")

// Subscription is a restartable query over pipeline items
type Subscription struct {
	p         *Pipeline
	predicate model.Predicate
	notify    chan struct{}
	done      chan struct{}

	mu     sync.Mutex
	seen   uint64
	fresh  bool
	closed bool
}

// Query subscribes to items matching the predicate, a nil predicate matches all items
func (p *Pipeline) Query(predicate model.Predicate) *Subscription {
	s := &Subscription{
		p:         p,
		predicate: predicate,
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
		fresh:     true,
	}
	p.mu.Lock()
	p.subs[s] = struct{}{}
	p.mu.Unlock()
	return s
}

func (p *Pipeline) subsLocked() []*Subscription {
	subs := make([]*Subscription, 0, len(p.subs))
	for s := range p.subs {
		subs = append(subs, s)
	}
	return subs
}

func (p *Pipeline) currentVersion() (uint64, State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.version, p.state
}

// Items returns the current result without waiting
func (s *Subscription) Items() []model.Item {
	return s.p.Items(s.predicate)
}

// Next returns the first result immediately and then blocks until items change
func (s *Subscription) Next(ctx context.Context) ([]model.Item, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, ErrSubscriptionClosed
		}
		version, state := s.p.currentVersion()
		if s.fresh || version > s.seen {
			s.fresh = false
			s.seen = version
			s.mu.Unlock()
			return s.p.Items(s.predicate), nil
		}
		s.mu.Unlock()
		if state != StateOpen && state != StateOpening {
			return nil, ErrPipelineClosed
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.done:
		case <-s.notify:
		}
	}
}

// Restart makes the next call of Next return the current result immediately
func (s *Subscription) Restart() {
	s.mu.Lock()
	s.fresh = true
	s.mu.Unlock()
	s.wakeUp()
}

func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	s.p.mu.Lock()
	delete(s.p.subs, s)
	s.p.mu.Unlock()
}

func (s *Subscription) wakeUp() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
