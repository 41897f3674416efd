package metadatastore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	anystore "github.com/anyproto/any-store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

type fixture struct {
	MetadataStore
	db anystore.DB
}

func newFixture(t *testing.T) *fixture {
	tmpDir, err := os.MkdirTemp("", "")
	require.NoError(t, err)
	db, err := anystore.Open(ctx, filepath.Join(tmpDir, "test.db"), nil)
	require.NoError(t, err)
	ms, err := New(ctx, db)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, db.Close())
		_ = os.RemoveAll(tmpDir)
	})
	return &fixture{MetadataStore: ms, db: db}
}

func TestMetadataStore(t *testing.T) {
	fx := newFixture(t)
	md := PartyMetadata{
		PartyKey:       "party",
		GenesisFeedKey: "feedA",
		OwnFeedKey:     "feedA",
		OwnFeedSecret:  []byte{1, 2, 3},
		PartySecret:    []byte{4, 5},
		AdmittedFeeds:  []string{"feedA"},
	}
	require.NoError(t, fx.AddParty(ctx, md))
	assert.ErrorIs(t, fx.AddParty(ctx, md), ErrPartyExists)

	got, err := fx.GetParty(ctx, "party")
	require.NoError(t, err)
	assert.Equal(t, md, got)

	require.NoError(t, fx.AddAdmittedFeed(ctx, "party", "feedB"))
	require.NoError(t, fx.AddAdmittedFeed(ctx, "party", "feedB"))
	got, err = fx.GetParty(ctx, "party")
	require.NoError(t, err)
	assert.Equal(t, []string{"feedA", "feedB"}, got.AdmittedFeeds)

	assert.ErrorIs(t, fx.AddAdmittedFeed(ctx, "unknown", "feedB"), ErrPartyNotFound)
	_, err = fx.GetParty(ctx, "unknown")
	assert.ErrorIs(t, err, ErrPartyNotFound)

	guest := PartyMetadata{PartyKey: "another", GenesisFeedKey: "x", OwnFeedKey: "y", OwnFeedSecret: []byte{9}, AdmittedFeeds: []string{"x", "y"}}
	require.NoError(t, fx.AddParty(ctx, guest))
	list, err := fx.ListParties(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "another", list[0].PartyKey)
	assert.Nil(t, list[0].PartySecret)
}
