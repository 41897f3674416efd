package party

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	anystore "github.com/anyproto/any-store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dxos/dxos-sub075/echo/feedstore"
	"github.com/dxos/dxos-sub075/echo/metadatastore"
	"github.com/dxos/dxos-sub075/echo/model"
	"github.com/dxos/dxos-sub075/echo/pipeline"
	"github.com/dxos/dxos-sub075/echo/snapshotstore"
	"github.com/dxos/dxos-sub075/util/crypto"
)

var ctx = context.Background()

type fixture struct {
	db        anystore.DB
	feeds     feedstore.FeedStore
	metadata  metadatastore.MetadataStore
	snapshots snapshotstore.SnapshotStore
	partyKey  crypto.PrivKey
	md        metadatastore.PartyMetadata
	conf      pipeline.Config
}

func newFixture(t *testing.T) *fixture {
	tmpDir, err := os.MkdirTemp("", "")
	require.NoError(t, err)
	fx := &fixture{conf: pipeline.Config{SnapshotInterval: 3}}
	fx.db, err = anystore.Open(ctx, filepath.Join(tmpDir, "test.db"), nil)
	require.NoError(t, err)
	fx.feeds, err = feedstore.New(ctx, fx.db)
	require.NoError(t, err)
	fx.metadata, err = metadatastore.New(ctx, fx.db)
	require.NoError(t, err)
	fx.snapshots, err = snapshotstore.New(ctx, fx.db)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, fx.db.Close())
		_ = os.RemoveAll(tmpDir)
	})
	fx.md = fx.newMember(t, nil)
	_, err = fx.feeds.CreateFeed(ctx, fx.md.OwnFeedKey, fx.md.PartyKey)
	require.NoError(t, err)
	return fx
}

// newMember generates an own feed key and metadata for a new member, the creator when admitted is empty
func (fx *fixture) newMember(t *testing.T, admitted []string) metadatastore.PartyMetadata {
	if fx.partyKey == nil {
		var err error
		fx.partyKey, _, err = crypto.GenerateRandomEd25519KeyPair()
		require.NoError(t, err)
	}
	feedKey, _, err := crypto.GenerateRandomEd25519KeyPair()
	require.NoError(t, err)
	secret, err := feedKey.Raw()
	require.NoError(t, err)
	own := feedKey.GetPublic().String()
	genesis := own
	if len(admitted) > 0 {
		genesis = admitted[0]
	}
	return metadatastore.PartyMetadata{
		PartyKey:       fx.partyKey.GetPublic().String(),
		GenesisFeedKey: genesis,
		OwnFeedKey:     own,
		OwnFeedSecret:  secret,
		AdmittedFeeds:  append(append([]string(nil), admitted...), own),
	}
}

func (fx *fixture) open(t *testing.T, md metadatastore.PartyMetadata) *Party {
	p, err := Open(ctx, Deps{
		Metadata:      md,
		FeedStore:     fx.feeds,
		MetadataStore: fx.metadata,
		SnapshotStore: fx.snapshots,
		Registry:      model.DefaultRegistry(),
		Pipeline:      fx.conf,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, p.Close(ctx))
	})
	return p
}

func (fx *fixture) create(t *testing.T) *Party {
	require.NoError(t, fx.metadata.AddParty(ctx, fx.md))
	p := fx.open(t, fx.md)
	require.NoError(t, p.WriteGenesis(ctx, fx.partyKey))
	return p
}

func TestParty_Items(t *testing.T) {
	fx := newFixture(t)
	p := fx.create(t)
	assert.Equal(t, fx.md.PartyKey, p.Key())
	assert.Equal(t, fx.md.OwnFeedKey, p.OwnFeedKey())
	assert.Equal(t, fx.md.OwnFeedKey, p.GenesisFeedKey())

	sub := p.Query(func(it model.Item) bool { return it.Type == model.ObjectModelType })
	defer sub.Close()
	items, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)

	id, err := p.CreateItem(ctx, "", map[string]any{"title": "foo"})
	require.NoError(t, err)
	nextCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	items, err = sub.Next(nextCtx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "foo", items[0].State["title"])

	require.NoError(t, p.Mutate(ctx, id, map[string]any{"title": "bar", "done": true}))
	it, ok := p.Item(id)
	require.True(t, ok)
	assert.Equal(t, "bar", it.State["title"])
	assert.Equal(t, true, it.State["done"])

	require.NoError(t, p.DeleteItem(ctx, id))
	_, ok = p.Item(id)
	assert.False(t, ok)
	assert.Error(t, p.Mutate(ctx, id, map[string]any{"title": "baz"}))
}

func TestParty_Snapshot(t *testing.T) {
	fx := newFixture(t)
	require.NoError(t, fx.metadata.AddParty(ctx, fx.md))
	p, err := Open(ctx, Deps{
		Metadata:      fx.md,
		FeedStore:     fx.feeds,
		MetadataStore: fx.metadata,
		SnapshotStore: fx.snapshots,
		Registry:      model.DefaultRegistry(),
		Pipeline:      fx.conf,
	})
	require.NoError(t, err)
	require.NoError(t, p.WriteGenesis(ctx, fx.partyKey))
	id, err := p.CreateItem(ctx, model.ObjectModelType, map[string]any{"n": 1})
	require.NoError(t, err)
	require.NoError(t, p.Mutate(ctx, id, map[string]any{"n": 2}))
	require.NoError(t, p.Mutate(ctx, id, map[string]any{"n": 3}))

	t.Run("saved after interval", func(t *testing.T) {
		assert.Eventually(t, func() bool {
			snap, err := fx.snapshots.Load(ctx, fx.md.PartyKey)
			return err == nil && snap.Timeframe.TotalMessages() >= 3
		}, 5*time.Second, 10*time.Millisecond)
	})

	require.NoError(t, p.Mutate(ctx, id, map[string]any{"n": 4}))
	require.NoError(t, p.Close(ctx))
	assert.ErrorIs(t, p.Mutate(ctx, id, map[string]any{"n": 5}), ErrPartyClosed)

	snap, err := fx.snapshots.Load(ctx, fx.md.PartyKey)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), snap.Timeframe.TotalMessages())

	t.Run("reopen restores", func(t *testing.T) {
		p2 := fx.open(t, fx.md)
		it, ok := p2.Item(id)
		require.True(t, ok)
		assert.EqualValues(t, 4, it.State["n"])
		assert.Equal(t, uint64(5), p2.Pipeline().Timeframe().TotalMessages())
	})
}

func TestParty_AdmitFeed(t *testing.T) {
	fx := newFixture(t)
	p := fx.create(t)

	guestKey, _, err := crypto.GenerateRandomEd25519KeyPair()
	require.NoError(t, err)
	guest := guestKey.GetPublic().String()
	feeds, err := p.AdmitFeed(ctx, guest)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{fx.md.OwnFeedKey, guest}, feeds)

	md, err := fx.metadata.GetParty(ctx, fx.md.PartyKey)
	require.NoError(t, err)
	assert.Contains(t, md.AdmittedFeeds, guest)

	_, err = p.AdmitFeed(ctx, "not a key")
	assert.Error(t, err)
}

func TestParty_Replication(t *testing.T) {
	fx := newFixture(t)
	host := fx.create(t)
	guestMd := fx.newMember(t, []string{fx.md.OwnFeedKey})
	_, err := host.AdmitFeed(ctx, guestMd.OwnFeedKey)
	require.NoError(t, err)

	guestFx := &fixture{conf: fx.conf, partyKey: fx.partyKey}
	tmpDir, err := os.MkdirTemp("", "")
	require.NoError(t, err)
	guestFx.db, err = anystore.Open(ctx, filepath.Join(tmpDir, "guest.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, guestFx.db.Close())
		_ = os.RemoveAll(tmpDir)
	})
	guestFx.feeds, err = feedstore.New(ctx, guestFx.db)
	require.NoError(t, err)
	guestFx.metadata, err = metadatastore.New(ctx, guestFx.db)
	require.NoError(t, err)
	guestFx.snapshots, err = snapshotstore.New(ctx, guestFx.db)
	require.NoError(t, err)
	_, err = guestFx.feeds.CreateFeed(ctx, guestMd.OwnFeedKey, guestMd.PartyKey)
	require.NoError(t, err)
	require.NoError(t, guestFx.metadata.AddParty(ctx, guestMd))
	guest := guestFx.open(t, guestMd)

	id, err := host.CreateItem(ctx, "", map[string]any{"title": "foo"})
	require.NoError(t, err)

	hc, gc := net.Pipe()
	rctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{}, 2)
	go func() {
		_ = host.HandleReplication(rctx, hc)
		done <- struct{}{}
	}()
	go func() {
		_ = guest.HandleReplication(rctx, gc)
		done <- struct{}{}
	}()
	defer func() {
		cancel()
		<-done
		<-done
	}()

	assert.Eventually(t, func() bool {
		it, ok := guest.Item(id)
		return ok && it.State["title"] == "foo"
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, guest.Mutate(ctx, id, map[string]any{"title": "bar"}))
	assert.Eventually(t, func() bool {
		it, ok := host.Item(id)
		return ok && it.State["title"] == "bar"
	}, 5*time.Second, 10*time.Millisecond)
}
