package periodicsync

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dxos/dxos-sub075/app/logger"
)

func TestPeriodicSync(t *testing.T) {
	t.Run("first call on run", func(t *testing.T) {
		fx := newFixture(t, time.Minute, 0)
		fx.Run()
		fx.waitCall(t)
		fx.tick(t)
		fx.waitCall(t)
		assert.Equal(t, int32(2), fx.count.Load())
	})
	t.Run("kick", func(t *testing.T) {
		fx := newFixture(t, time.Minute, 0)
		fx.Run()
		fx.waitCall(t)
		fx.Kick()
		fx.waitCall(t)
		assert.Equal(t, int32(2), fx.count.Load())
	})
	t.Run("kicks are coalesced", func(t *testing.T) {
		fx := newFixture(t, time.Minute, 0)
		release := make(chan struct{})
		fx.hold = release
		fx.Run()
		fx.waitCall(t)
		for i := 0; i < 5; i++ {
			fx.Kick()
		}
		close(release)
		fx.waitCall(t)
		select {
		case <-fx.calls:
			t.Fatal("unexpected extra call")
		case <-time.After(50 * time.Millisecond):
		}
		assert.Equal(t, int32(2), fx.count.Load())
	})
	t.Run("reset restarts ticker", func(t *testing.T) {
		fx := newFixture(t, time.Minute, 0)
		fx.Run()
		fx.waitCall(t)
		first := fx.ticker(t)
		fx.Reset()
		fx.waitCall(t)
		second := fx.ticker(t)
		assert.True(t, first.Stopped())
		assert.NotSame(t, first, second)
		second.Tick()
		fx.waitCall(t)
		assert.Equal(t, int32(3), fx.count.Load())
	})
	t.Run("call timeout", func(t *testing.T) {
		fx := newFixture(t, time.Minute, 10*time.Millisecond)
		fx.Run()
		ctx := fx.waitCall(t)
		_, ok := ctx.Deadline()
		assert.True(t, ok)
	})
	t.Run("error does not stop the loop", func(t *testing.T) {
		fx := newFixture(t, time.Minute, 0)
		fx.err = errors.New("snapshot failed")
		fx.Run()
		fx.waitCall(t)
		fx.tick(t)
		fx.waitCall(t)
		assert.Equal(t, int32(2), fx.count.Load())
	})
	t.Run("zero period only kicks", func(t *testing.T) {
		fx := newFixture(t, 0, 0)
		fx.Run()
		fx.waitCall(t)
		fx.Kick()
		fx.waitCall(t)
		select {
		case <-fx.tickers:
			t.Fatal("ticker created for zero period")
		default:
		}
	})
	t.Run("close without run", func(t *testing.T) {
		ps := NewPeriodicSync(0, 0, func(ctx context.Context) error { return nil }, logger.NewNamed("test"))
		ps.Close()
	})
	t.Run("close cancels call", func(t *testing.T) {
		fx := newFixture(t, time.Minute, 0)
		fx.hold = make(chan struct{})
		fx.Run()
		ctx := fx.waitCall(t)
		fx.Close()
		require.Error(t, ctx.Err())
	})
}

type fixture struct {
	*periodicCall
	calls   chan context.Context
	tickers chan *fakeTicker
	hold    chan struct{}
	err     error
	count   atomic.Int32
}

func newFixture(t *testing.T, period, timeout time.Duration) *fixture {
	fx := &fixture{
		calls:   make(chan context.Context, 10),
		tickers: make(chan *fakeTicker, 10),
	}
	fx.periodicCall = NewPeriodicSyncDuration(period, timeout, fx.call, logger.NewNamed("test.periodicsync")).(*periodicCall)
	fx.newTicker = func(time.Duration) ticker {
		ft := newFakeTicker()
		fx.tickers <- ft
		return ft
	}
	t.Cleanup(fx.Close)
	return fx
}

func (fx *fixture) call(ctx context.Context) error {
	fx.count.Add(1)
	fx.calls <- ctx
	if fx.hold != nil {
		select {
		case <-fx.hold:
		case <-ctx.Done():
		}
	}
	return fx.err
}

func (fx *fixture) waitCall(t *testing.T) context.Context {
	t.Helper()
	select {
	case ctx := <-fx.calls:
		return ctx
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for periodic call")
	}
	return nil
}

func (fx *fixture) ticker(t *testing.T) *fakeTicker {
	t.Helper()
	select {
	case ft := <-fx.tickers:
		return ft
	case <-time.After(time.Second):
		t.Fatal("ticker was not created")
	}
	return nil
}

// tick fires the most recently created ticker
func (fx *fixture) tick(t *testing.T) {
	fx.ticker(t).Tick()
}

type fakeTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func newFakeTicker() *fakeTicker {
	return &fakeTicker{ch: make(chan time.Time)}
}

func (f *fakeTicker) C() <-chan time.Time {
	return f.ch
}

func (f *fakeTicker) Stop() {
	f.stopped.Store(true)
}

func (f *fakeTicker) Tick() {
	f.ch <- time.Now()
}

func (f *fakeTicker) Stopped() bool {
	return f.stopped.Load()
}
