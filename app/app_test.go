package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

func TestApp_Registry(t *testing.T) {
	a := new(App)
	a.Register(newTestComponent("config", nil, nil)).
		Register(newTestRunnable("echo.storage", nil, nil)).
		Register(newTestRunnable("net.swarm", nil, nil))

	t.Run("component", func(t *testing.T) {
		assert.Nil(t, a.Component("unknown"))
		for _, name := range []string{"config", "echo.storage", "net.swarm"} {
			c := a.Component(name)
			require.NotNil(t, c, name)
			assert.Equal(t, name, c.Name())
		}
		assert.Panics(t, func() { a.MustComponent("unknown") })
	})
	t.Run("duplicate name", func(t *testing.T) {
		assert.Panics(t, func() { a.Register(newTestComponent("config", nil, nil)) })
	})
	t.Run("names keep registration order", func(t *testing.T) {
		assert.Equal(t, []string{"config", "echo.storage", "net.swarm"}, a.ComponentNames())
	})
	t.Run("generic lookup", func(t *testing.T) {
		r := MustComponent[*testRunnable](a)
		assert.Equal(t, "echo.storage", r.Name())
		assert.Panics(t, func() { MustComponent[interface{ Unknown() }](a) })
	})
	t.Run("child", func(t *testing.T) {
		child := a.ChildApp()
		child.Register(newTestRunnable("config", nil, nil)).
			Register(newTestComponent("echo.partymanager", nil, nil))
		_, overridden := child.MustComponent("config").(*testRunnable)
		assert.True(t, overridden)
		assert.NotNil(t, child.MustComponent("net.swarm"))
		assert.Nil(t, a.Component("echo.partymanager"))
		assert.Equal(t, []string{"config", "echo.partymanager", "config", "echo.storage", "net.swarm"}, child.ComponentNames())

		var own []string
		child.IterateComponents(func(c Component) {
			own = append(own, c.Name())
		})
		assert.Equal(t, []string{"config", "echo.partymanager"}, own)
	})
}

func TestApp_Start(t *testing.T) {
	t.Run("start and close order", func(t *testing.T) {
		a := new(App)
		seq := new(testSeq)
		components := []iTestComponent{
			newTestComponent("config", nil, seq),
			newTestRunnable("echo.storage", nil, seq),
			newTestRunnable("net.swarm", nil, seq),
			newTestRunnable("echo.partymanager", nil, seq),
		}
		for _, c := range components {
			a.Register(c)
		}
		require.NoError(t, a.Start(ctx))
		require.NoError(t, a.Close(ctx))

		assert.Equal(t, []testIds{
			{init: 1},
			{init: 2, run: 5, close: 10},
			{init: 3, run: 6, close: 9},
			{init: 4, run: 7, close: 8},
		}, collectIds(components))

		stat := a.StartStat()
		assert.Len(t, stat.SpentMsPerComp, 3)
		assert.NotContains(t, stat.SpentMsPerComp, "config")
	})
	t.Run("init error closes initialized", func(t *testing.T) {
		a := new(App)
		seq := new(testSeq)
		initErr := errors.New("no storage path")
		components := []iTestComponent{
			newTestRunnable("net.swarm", nil, seq),
			newTestRunnable("echo.storage", initErr, seq),
		}
		for _, c := range components {
			a.Register(c)
		}
		err := a.Start(ctx)
		require.ErrorIs(t, err, initErr)
		assert.Contains(t, err.Error(), "echo.storage")
		assert.Equal(t, []testIds{
			{init: 1, close: 4},
			{init: 2, close: 3},
		}, collectIds(components))
	})
	t.Run("run error closes started", func(t *testing.T) {
		a := new(App)
		seq := new(testSeq)
		runErr := errors.New("listen failed")
		swarm := newTestRunnable("net.swarm", nil, seq)
		swarm.runErr = runErr
		components := []iTestComponent{
			newTestRunnable("echo.storage", nil, seq),
			swarm,
			newTestRunnable("echo.partymanager", nil, seq),
		}
		for _, c := range components {
			a.Register(c)
		}
		require.ErrorIs(t, a.Start(ctx), runErr)
		assert.Equal(t, []testIds{
			{init: 1, run: 4, close: 7},
			{init: 2, run: 5, close: 6},
			{init: 3},
		}, collectIds(components))
	})
	t.Run("close errors are joined", func(t *testing.T) {
		a := new(App)
		s := newTestRunnable("echo.storage", nil, nil)
		s.closeErr = errors.New("db is busy")
		a.Register(s)
		require.NoError(t, a.Start(ctx))
		err := a.Close(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "db is busy")
	})
}

type iTestComponent interface {
	Component
	Ids() testIds
}

type testIds struct {
	init, run, close int64
}

func collectIds(components []iTestComponent) (ids []testIds) {
	for _, c := range components {
		ids = append(ids, c.Ids())
	}
	return
}

type testComponent struct {
	name    string
	initErr error
	seq     *testSeq
	ids     testIds
}

func newTestComponent(name string, initErr error, seq *testSeq) *testComponent {
	return &testComponent{name: name, initErr: initErr, seq: seq}
}

func (c *testComponent) Init(a *App) error {
	c.ids.init = c.seq.next()
	return c.initErr
}

func (c *testComponent) Name() string { return c.name }

func (c *testComponent) Ids() testIds { return c.ids }

type testRunnable struct {
	testComponent
	runErr   error
	closeErr error
}

func newTestRunnable(name string, initErr error, seq *testSeq) *testRunnable {
	return &testRunnable{testComponent: testComponent{name: name, initErr: initErr, seq: seq}}
}

func (r *testRunnable) Run(ctx context.Context) error {
	r.ids.run = r.seq.next()
	return r.runErr
}

func (r *testRunnable) Close(ctx context.Context) error {
	r.ids.close = r.seq.next()
	return r.closeErr
}

type testSeq struct {
	seq atomic.Int64
}

func (ts *testSeq) next() int64 {
	if ts == nil {
		return 0
	}
	return ts.seq.Add(1)
}
