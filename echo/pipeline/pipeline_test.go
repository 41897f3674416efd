package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	anystore "github.com/anyproto/any-store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/dxos/dxos-sub075/echo/feedstore"
	"github.com/dxos/dxos-sub075/echo/feedstore/mock_feedstore"
	"github.com/dxos/dxos-sub075/echo/model"
	"github.com/dxos/dxos-sub075/echo/mutation"
	"github.com/dxos/dxos-sub075/echo/partyprocessor"
	"github.com/dxos/dxos-sub075/echo/timeframe"
	"github.com/dxos/dxos-sub075/util/crypto"
)

var ctx = context.Background()

type fixture struct {
	*Pipeline
	db        anystore.DB
	store     feedstore.FeedStore
	processor *partyprocessor.PartyProcessor
	ownKey    crypto.PrivKey
	own       feedstore.Feed
}

func newKey(t *testing.T) crypto.PrivKey {
	k, _, err := crypto.GenerateRandomEd25519KeyPair()
	require.NoError(t, err)
	return k
}

func newFixture(t *testing.T, partyKey string, admitted ...string) *fixture {
	tmpDir, err := os.MkdirTemp("", "")
	require.NoError(t, err)
	db, err := anystore.Open(ctx, filepath.Join(tmpDir, "test.db"), nil)
	require.NoError(t, err)
	store, err := feedstore.New(ctx, db)
	require.NoError(t, err)

	fx := &fixture{db: db, store: store, ownKey: newKey(t)}
	ownKey := fx.ownKey.GetPublic().String()
	fx.own, err = store.CreateFeed(ctx, ownKey, partyKey)
	require.NoError(t, err)
	fx.processor = partyprocessor.New(partyKey, append([]string{ownKey}, admitted...), nil)
	fx.Pipeline = New(Deps{
		PartyKey:  partyKey,
		FeedStore: store,
		Processor: fx.processor,
		Registry:  model.DefaultRegistry(),
		OwnFeed:   fx.own,
		OwnKey:    fx.ownKey,
	})
	require.NoError(t, fx.Open(ctx))
	t.Cleanup(func() {
		require.NoError(t, fx.Close(ctx))
		assert.NoError(t, fx.db.Close())
		_ = os.RemoveAll(tmpDir)
	})
	return fx
}

func (fx *fixture) ownFeedKey() string {
	return fx.ownKey.GetPublic().String()
}

func (fx *fixture) waitFor(t *testing.T, tf timeframe.Timeframe) {
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, fx.WaitUntilTimeframe(waitCtx, tf))
}

func envelopeData(t *testing.T, itemID string, clock uint64, changes map[string]any) []byte {
	m, err := mutation.MutationFromMap(changes)
	require.NoError(t, err)
	return mutation.FeedMessage{Envelope: &mutation.MutationEnvelope{
		ItemID:   itemID,
		ItemType: model.ObjectModelType,
		Mutation: m,
		Clock:    clock,
	}}.Marshal()
}

// signed builds a replicated block of the key's feed
func signed(t *testing.T, key crypto.PrivKey, seq uint64, payload []byte) feedstore.Block {
	feedKey := key.GetPublic().String()
	data, err := sealBlock(key, feedKey, seq, payload)
	require.NoError(t, err)
	return feedstore.Block{FeedKey: feedKey, Seq: seq, Data: data}
}

// replicate sends all blocks of the own feed in reverse order
func replicate(t *testing.T, from, to *fixture) {
	var blocks []feedstore.Block
	iter, err := from.own.ReadFrom(ctx, 1)
	require.NoError(t, err)
	for iter.Next() {
		b, err := iter.Block()
		require.NoError(t, err)
		blocks = append(blocks, b)
	}
	require.NoError(t, iter.Close())
	for i := len(blocks) - 1; i >= 0; i-- {
		require.NoError(t, to.Receive(ctx, blocks[i]))
	}
	to.waitFor(t, timeframe.New(timeframe.Frame{Key: from.ownFeedKey(), Seq: from.own.Length()}))
}

func TestPipeline_Mutate(t *testing.T) {
	fx := newFixture(t, newKey(t).GetPublic().String())

	require.NoError(t, fx.Mutate(ctx, "item1", model.ObjectModelType, map[string]any{"title": "a"}))
	it, ok := fx.Item("item1")
	require.True(t, ok)
	assert.Equal(t, "a", it.State["title"])
	assert.Equal(t, uint64(1), fx.Timeframe().Get(fx.ownFeedKey()))

	require.NoError(t, fx.Mutate(ctx, "item1", "", map[string]any{"title": nil, "n": 2}))
	it, _ = fx.Item("item1")
	assert.Equal(t, map[string]any{"n": int64(2)}, it.State)

	t.Run("unknown model", func(t *testing.T) {
		err := fx.Mutate(ctx, "item2", "unknown", map[string]any{"a": 1})
		require.ErrorIs(t, err, model.ErrUnknownModel)
	})
	t.Run("delete", func(t *testing.T) {
		require.NoError(t, fx.DeleteItem(ctx, "item1"))
		_, ok := fx.Item("item1")
		assert.False(t, ok)
		err := fx.Mutate(ctx, "item1", model.ObjectModelType, map[string]any{"a": 1})
		require.ErrorIs(t, err, model.ErrItemDeleted)
	})
}

func TestPipeline_Query(t *testing.T) {
	fx := newFixture(t, newKey(t).GetPublic().String())
	sub := fx.Query(func(it model.Item) bool {
		return it.State["kind"] == "task"
	})
	defer sub.Close()

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	items, err := sub.Next(waitCtx)
	require.NoError(t, err)
	assert.Empty(t, items)

	require.NoError(t, fx.Mutate(ctx, "note", model.ObjectModelType, map[string]any{"kind": "note"}))
	require.NoError(t, fx.Mutate(ctx, "task", model.ObjectModelType, map[string]any{"kind": "task"}))
	items, err = sub.Next(waitCtx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "task", items[0].ID)

	sub.Restart()
	items, err = sub.Next(waitCtx)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	t.Run("next waits for changes", func(t *testing.T) {
		shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err := sub.Next(shortCtx)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
	t.Run("closed", func(t *testing.T) {
		sub.Close()
		_, err := sub.Next(waitCtx)
		require.ErrorIs(t, err, ErrSubscriptionClosed)
	})
}

func TestPipeline_Convergence(t *testing.T) {
	partyKey := newKey(t).GetPublic().String()
	fxA := newFixture(t, partyKey)
	fxB := newFixture(t, partyKey)
	_, err := fxA.processor.Admit(ctx, fxB.ownFeedKey())
	require.NoError(t, err)
	_, err = fxB.processor.Admit(ctx, fxA.ownFeedKey())
	require.NoError(t, err)

	require.NoError(t, fxA.Mutate(ctx, "item", model.ObjectModelType, map[string]any{"title": "a", "a": true}))
	require.NoError(t, fxA.Mutate(ctx, "item", model.ObjectModelType, map[string]any{"title": "a2"}))
	require.NoError(t, fxB.Mutate(ctx, "item", model.ObjectModelType, map[string]any{"title": "b", "b": true}))
	require.NoError(t, fxB.Mutate(ctx, "other", model.ObjectModelType, map[string]any{"x": 1}))

	replicate(t, fxA, fxB)
	replicate(t, fxB, fxA)

	tfA, hashA, err := fxA.StateHash()
	require.NoError(t, err)
	tfB, hashB, err := fxB.StateHash()
	require.NoError(t, err)
	assert.True(t, tfA.Equals(tfB), "%s != %s", tfA, tfB)
	assert.Equal(t, hashA, hashB)
	assert.Equal(t, fxA.Items(nil), fxB.Items(nil))

	it, _ := fxA.Item("item")
	assert.Equal(t, true, it.State["a"])
	assert.Equal(t, true, it.State["b"])
}

func TestPipeline_GapBlocking(t *testing.T) {
	remoteKey := newKey(t)
	remote := remoteKey.GetPublic().String()
	fx := newFixture(t, newKey(t).GetPublic().String(), remote)

	require.NoError(t, fx.Receive(ctx, signed(t, remoteKey, 2, envelopeData(t, "i", 2, map[string]any{"v": 2}))))
	assert.Equal(t, uint64(0), fx.EndTimeframe().Get(remote))
	assert.Equal(t, uint64(0), fx.Timeframe().Get(remote))

	require.NoError(t, fx.Receive(ctx, signed(t, remoteKey, 1, envelopeData(t, "i", 1, map[string]any{"v": 1}))))
	fx.waitFor(t, timeframe.New(timeframe.Frame{Key: remote, Seq: 2}))
	it, ok := fx.Item("i")
	require.True(t, ok)
	assert.Equal(t, int64(2), it.State["v"])

	t.Run("duplicate block", func(t *testing.T) {
		require.NoError(t, fx.Receive(ctx, signed(t, remoteKey, 1, envelopeData(t, "i", 1, map[string]any{"v": 1}))))
		assert.Equal(t, uint64(2), fx.EndTimeframe().Get(remote))
	})
}

func TestPipeline_CorruptBlock(t *testing.T) {
	remoteKey := newKey(t)
	remote := remoteKey.GetPublic().String()
	fx := newFixture(t, newKey(t).GetPublic().String(), remote)

	require.NoError(t, fx.Receive(ctx, signed(t, remoteKey, 1, []byte{0xff, 0xff})))
	require.NoError(t, fx.Receive(ctx, signed(t, remoteKey, 2, envelopeData(t, "i", 1, map[string]any{"v": 1}))))
	fx.waitFor(t, timeframe.New(timeframe.Frame{Key: remote, Seq: 2}))
	_, ok := fx.Item("i")
	assert.True(t, ok)
}

func TestPipeline_ForgedBlock(t *testing.T) {
	victimKey := newKey(t)
	victim := victimKey.GetPublic().String()
	fx := newFixture(t, newKey(t).GetPublic().String(), victim)
	forged := envelopeData(t, "i", 1, map[string]any{"owner": "attacker"})

	t.Run("signed by another key", func(t *testing.T) {
		b := signed(t, newKey(t), 1, forged)
		b.FeedKey = victim
		require.NoError(t, fx.Receive(ctx, b))
		assert.Equal(t, uint64(0), fx.EndTimeframe().Get(victim))
	})
	t.Run("unsigned", func(t *testing.T) {
		require.NoError(t, fx.Receive(ctx, feedstore.Block{FeedKey: victim, Seq: 1, Data: forged}))
		assert.Equal(t, uint64(0), fx.EndTimeframe().Get(victim))
	})
	t.Run("replayed at another seq", func(t *testing.T) {
		b := signed(t, victimKey, 1, forged)
		b.Seq = 2
		require.NoError(t, fx.Receive(ctx, b))
		require.NoError(t, fx.Receive(ctx, signed(t, victimKey, 1, envelopeData(t, "i", 1, map[string]any{"owner": "victim"}))))
		fx.waitFor(t, timeframe.New(timeframe.Frame{Key: victim, Seq: 1}))
		assert.Equal(t, uint64(1), fx.EndTimeframe().Get(victim))
	})
	t.Run("unadmitted feed is not buffered", func(t *testing.T) {
		b := signed(t, newKey(t), 1, forged)
		b.FeedKey = newKey(t).GetPublic().String()
		require.NoError(t, fx.Receive(ctx, b))
		assert.Equal(t, 0, fx.PendingBlocks())
	})

	it, ok := fx.Item("i")
	require.True(t, ok)
	assert.Equal(t, "victim", it.State["owner"])
}

func TestPipeline_PendingAdmission(t *testing.T) {
	remoteKey := newKey(t)
	remote := remoteKey.GetPublic().String()
	fx := newFixture(t, newKey(t).GetPublic().String())

	require.NoError(t, fx.Receive(ctx, signed(t, remoteKey, 1, envelopeData(t, "i", 1, map[string]any{"v": 1}))))
	assert.Equal(t, 1, fx.PendingBlocks())
	_, ok := fx.Item("i")
	assert.False(t, ok)

	_, err := fx.processor.Admit(ctx, remote)
	require.NoError(t, err)
	fx.waitFor(t, timeframe.New(timeframe.Frame{Key: remote, Seq: 1}))
	assert.Equal(t, 0, fx.PendingBlocks())
	_, ok = fx.Item("i")
	assert.True(t, ok)
}

func TestPipeline_Credential(t *testing.T) {
	partyKey := newKey(t)
	remoteKey := newKey(t)
	remote := remoteKey.GetPublic().String()
	fx := newFixture(t, partyKey.GetPublic().String())

	c, err := partyprocessor.NewCredential(mutation.CredentialAdmitFeed, fx.PartyKey(), remote, fx.ownKey)
	require.NoError(t, err)
	require.NoError(t, fx.WriteCredential(ctx, c))
	assert.True(t, fx.processor.IsAdmitted(remote))

	require.NoError(t, fx.Receive(ctx, signed(t, remoteKey, 1, envelopeData(t, "i", 1, map[string]any{"v": 1}))))
	fx.waitFor(t, timeframe.New(timeframe.Frame{Key: remote, Seq: 1}))

	t.Run("invalid credential is skipped", func(t *testing.T) {
		other := newKey(t).GetPublic().String()
		bad, err := partyprocessor.NewCredential(mutation.CredentialAdmitFeed, fx.PartyKey(), other, newKey(t))
		require.NoError(t, err)
		require.NoError(t, fx.WriteCredential(ctx, bad))
		assert.False(t, fx.processor.IsAdmitted(other))
		assert.NoError(t, fx.Err())
	})
}

func TestPipeline_Snapshot(t *testing.T) {
	fx := newFixture(t, newKey(t).GetPublic().String())
	require.NoError(t, fx.Mutate(ctx, "a", model.ObjectModelType, map[string]any{"v": 1}))
	require.NoError(t, fx.Mutate(ctx, "b", model.ObjectModelType, map[string]any{"v": 2}))
	require.NoError(t, fx.DeleteItem(ctx, "b"))

	snap, err := fx.Snapshot()
	require.NoError(t, err)
	tf, hash, err := fx.StateHash()
	require.NoError(t, err)
	require.NoError(t, fx.Close(ctx))

	restored := New(Deps{
		PartyKey:  fx.PartyKey(),
		FeedStore: fx.store,
		Processor: partyprocessor.New(fx.PartyKey(), []string{fx.ownFeedKey()}, nil),
		Registry:  model.DefaultRegistry(),
		OwnFeed:   fx.own,
		OwnKey:    fx.ownKey,
		Snapshot:  &snap,
	})
	require.NoError(t, restored.Open(ctx))
	defer func() {
		require.NoError(t, restored.Close(ctx))
	}()
	rtf, rhash, err := restored.StateHash()
	require.NoError(t, err)
	assert.True(t, tf.Equals(rtf))
	assert.Equal(t, hash, rhash)
	assert.Equal(t, fx.Items(nil), restored.Items(nil))

	require.NoError(t, restored.Mutate(ctx, "a", "", map[string]any{"v": 3}))
	it, _ := restored.Item("a")
	assert.Equal(t, int64(3), it.State["v"])
	err = restored.Mutate(ctx, "b", model.ObjectModelType, map[string]any{"v": 3})
	assert.ErrorIs(t, err, model.ErrItemDeleted)
}

func TestPipeline_StorageFault(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mock_feedstore.NewMockFeedStore(ctrl)
	feed := mock_feedstore.NewMockFeed(ctrl)
	feedKey := newKey(t).GetPublic().String()
	partyKey := newKey(t).GetPublic().String()
	diskErr := errors.New("disk failure")

	store.EXPECT().OpenFeed(gomock.Any(), feedKey, partyKey).Return(feed, nil).AnyTimes()
	feed.EXPECT().Key().Return(feedKey).AnyTimes()
	feed.EXPECT().Length().Return(uint64(1)).AnyTimes()
	feed.EXPECT().Subscribe(gomock.Any()).Return(func() {}).AnyTimes()
	feed.EXPECT().Get(gomock.Any(), uint64(1)).Return(feedstore.Block{}, diskErr).AnyTimes()

	p := New(Deps{
		PartyKey:  partyKey,
		FeedStore: store,
		Processor: partyprocessor.New(partyKey, []string{feedKey}, nil),
		Registry:  model.DefaultRegistry(),
	})
	require.NoError(t, p.Open(ctx))
	assert.Eventually(t, func() bool {
		return p.State() == StateClosed
	}, 5*time.Second, 10*time.Millisecond)
	require.ErrorIs(t, p.Err(), diskErr)

	err := p.WaitUntilTimeframe(ctx, timeframe.New(timeframe.Frame{Key: feedKey, Seq: 1}))
	require.ErrorIs(t, err, ErrPipelineClosed)
	require.ErrorIs(t, err, diskErr)
	require.ErrorIs(t, p.Receive(ctx, feedstore.Block{FeedKey: feedKey, Seq: 2}), ErrPipelineClosed)
	require.ErrorIs(t, p.Mutate(ctx, "i", model.ObjectModelType, nil), ErrNotWritable)

	// explicit reopen resets the fault
	require.NoError(t, p.Open(ctx))
	assert.Eventually(t, func() bool {
		return p.State() == StateClosed
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, p.Close(ctx))
}

func TestPipeline_OpenTwice(t *testing.T) {
	fx := newFixture(t, newKey(t).GetPublic().String())
	require.ErrorIs(t, fx.Open(ctx), ErrPipelineOpen)
	assert.Equal(t, StateOpen, fx.State())
}
