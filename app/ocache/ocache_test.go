package ocache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

var ctx = context.Background()

type testObject struct {
	name     string
	closed   atomic.Bool
	closeErr error
	closeCh  chan struct{}
}

func (t *testObject) Close(ctx context.Context) (err error) {
	if t.closeCh != nil {
		<-t.closeCh
	}
	if t.closed.Swap(true) {
		return errors.New("already closed")
	}
	return t.closeErr
}

func TestOCache_Get(t *testing.T) {
	t.Run("successful", func(t *testing.T) {
		c := New(func(ctx context.Context, id string) (value Object, err error) {
			return &testObject{name: "test"}, nil
		})
		val, err := c.Get(ctx, "test")
		require.NoError(t, err)
		require.NotNil(t, val)
		assert.Equal(t, "test", val.(*testObject).name)
		assert.Equal(t, 1, c.Len())
		assert.NoError(t, c.Close(ctx))
		assert.True(t, val.(*testObject).closed.Load())
	})
	t.Run("error", func(t *testing.T) {
		tErr := errors.New("test err")
		c := New(func(ctx context.Context, id string) (value Object, err error) {
			return nil, tErr
		})
		val, err := c.Get(ctx, "test")
		require.Equal(t, tErr, err)
		require.Nil(t, val)
		assert.Equal(t, 0, c.Len())
		assert.NoError(t, c.Close(ctx))
	})
	t.Run("parallel load", func(t *testing.T) {
		var calls atomic.Int32
		release := make(chan struct{})
		c := New(func(ctx context.Context, id string) (value Object, err error) {
			calls.Inc()
			<-release
			return &testObject{name: id}, nil
		})
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				val, err := c.Get(ctx, "p")
				assert.NoError(t, err)
				assert.Equal(t, "p", val.(*testObject).name)
			}()
		}
		time.Sleep(10 * time.Millisecond)
		close(release)
		wg.Wait()
		assert.Equal(t, int32(1), calls.Load())
	})
	t.Run("waiter gives up", func(t *testing.T) {
		release := make(chan struct{})
		c := New(func(ctx context.Context, id string) (value Object, err error) {
			<-release
			return &testObject{name: id}, nil
		})
		tctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		_, err := c.Get(tctx, "w")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		close(release)
		val, err := c.Get(ctx, "w")
		require.NoError(t, err)
		assert.Equal(t, "w", val.(*testObject).name)
	})
	t.Run("closed", func(t *testing.T) {
		c := New(func(ctx context.Context, id string) (value Object, err error) {
			return &testObject{}, nil
		})
		require.NoError(t, c.Close(ctx))
		_, err := c.Get(ctx, "test")
		assert.ErrorIs(t, err, ErrClosed)
		assert.ErrorIs(t, c.Close(ctx), ErrClosed)
	})
}

func TestOCache_Pick(t *testing.T) {
	c := New(func(ctx context.Context, id string) (value Object, err error) {
		return &testObject{name: id}, nil
	})
	_, err := c.Pick(ctx, "a")
	assert.ErrorIs(t, err, ErrNotExists)
	_, err = c.Get(ctx, "a")
	require.NoError(t, err)
	val, err := c.Pick(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", val.(*testObject).name)
}

func TestOCache_Add(t *testing.T) {
	c := New(func(ctx context.Context, id string) (value Object, err error) {
		return nil, fmt.Errorf("unexpected load of %s", id)
	})
	obj := &testObject{name: "added"}
	require.NoError(t, c.Add("a", obj))
	assert.ErrorIs(t, c.Add("a", &testObject{}), ErrExists)
	val, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Same(t, obj, val)
}

func TestOCache_Remove(t *testing.T) {
	t.Run("remove", func(t *testing.T) {
		c := New(func(ctx context.Context, id string) (value Object, err error) {
			return &testObject{name: id}, nil
		})
		val, err := c.Get(ctx, "a")
		require.NoError(t, err)
		ok, err := c.Remove(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, val.(*testObject).closed.Load())
		assert.Equal(t, 0, c.Len())
		_, err = c.Remove(ctx, "a")
		assert.ErrorIs(t, err, ErrNotExists)
	})
	t.Run("get while removing loads again", func(t *testing.T) {
		closeCh := make(chan struct{})
		var loads atomic.Int32
		c := New(func(ctx context.Context, id string) (value Object, err error) {
			if loads.Inc() == 1 {
				return &testObject{name: id, closeCh: closeCh}, nil
			}
			return &testObject{name: id}, nil
		})
		first, err := c.Get(ctx, "a")
		require.NoError(t, err)

		removed := make(chan struct{})
		go func() {
			defer close(removed)
			ok, err := c.Remove(ctx, "a")
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
		assert.Eventually(t, func() bool {
			_, err := c.Pick(ctx, "a")
			return errors.Is(err, ErrNotExists)
		}, time.Second, time.Millisecond)

		got := make(chan Object)
		go func() {
			val, err := c.Get(ctx, "a")
			assert.NoError(t, err)
			got <- val
		}()
		close(closeCh)
		<-removed
		second := <-got
		assert.NotSame(t, first, second)
		assert.Equal(t, int32(2), loads.Load())
	})
}

func TestOCache_ForEach(t *testing.T) {
	c := New(func(ctx context.Context, id string) (value Object, err error) {
		return &testObject{name: id}, nil
	})
	for _, id := range []string{"a", "b", "c"} {
		_, err := c.Get(ctx, id)
		require.NoError(t, err)
	}
	var ids []string
	c.ForEach(func(id string, v Object) bool {
		ids = append(ids, id)
		return true
	})
	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids)

	var n int
	c.ForEach(func(id string, v Object) bool {
		n++
		return false
	})
	assert.Equal(t, 1, n)
}

func TestOCache_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	loadErr := errors.New("load failed")
	c := New(func(ctx context.Context, id string) (value Object, err error) {
		if id == "bad" {
			return nil, loadErr
		}
		return &testObject{name: id}, nil
	}, WithMetrics(reg, "echo_test"))
	_, err := c.Get(ctx, "a")
	require.NoError(t, err)
	_, err = c.Get(ctx, "a")
	require.NoError(t, err)
	_, err = c.Get(ctx, "bad")
	require.ErrorIs(t, err, loadErr)
	_, err = c.Get(ctx, "b")
	require.NoError(t, err)
	ok, err := c.Remove(ctx, "b")
	require.NoError(t, err)
	require.True(t, ok)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, f := range families {
		for _, m := range f.GetMetric() {
			name := f.GetName()
			for _, l := range m.GetLabel() {
				name += "/" + l.GetValue()
			}
			if m.GetCounter() != nil {
				values[name] = m.GetCounter().GetValue()
			} else if m.GetGauge() != nil {
				values[name] = m.GetGauge().GetValue()
			}
		}
	}
	assert.Equal(t, map[string]float64{
		"echo_test_lookups_total/hit":    1,
		"echo_test_lookups_total/miss":   3,
		"echo_test_lookups_total/failed": 1,
		"echo_test_closed_total":         1,
		"echo_test_open":                 1,
	}, values)
	assert.Nil(t, WithMetrics(nil, "x"))
}
