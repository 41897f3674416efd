package partyprocessor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/dxos/dxos-sub075/echo/mutation"
	"github.com/dxos/dxos-sub075/echo/partyprocessor/mock_partyprocessor"
	"github.com/dxos/dxos-sub075/util/crypto"
)

var ctx = context.Background()

type fixture struct {
	*PartyProcessor
	ctrl     *gomock.Controller
	recorder *mock_partyprocessor.MockAdmissionRecorder
	partyKey crypto.PrivKey
	genesis  crypto.PrivKey
	admitted []string
}

func newKey(t *testing.T) crypto.PrivKey {
	k, _, err := crypto.GenerateRandomEd25519KeyPair()
	require.NoError(t, err)
	return k
}

func newFixture(t *testing.T) *fixture {
	ctrl := gomock.NewController(t)
	fx := &fixture{
		ctrl:     ctrl,
		recorder: mock_partyprocessor.NewMockAdmissionRecorder(ctrl),
		partyKey: newKey(t),
		genesis:  newKey(t),
	}
	partyKey := fx.partyKey.GetPublic().String()
	fx.PartyProcessor = New(partyKey, []string{fx.genesis.GetPublic().String()}, fx.recorder)
	fx.OnAdmit(func(feedKey string) {
		fx.admitted = append(fx.admitted, feedKey)
	})
	return fx
}

func (fx *fixture) credential(t *testing.T, typ mutation.CredentialType, subject string, issuer crypto.PrivKey) mutation.Credential {
	c, err := NewCredential(typ, fx.PartyKey(), subject, issuer)
	require.NoError(t, err)
	return c
}

func TestPartyProcessor_Admit(t *testing.T) {
	fx := newFixture(t)
	guest := newKey(t).GetPublic().String()
	fx.recorder.EXPECT().AddAdmittedFeed(ctx, fx.PartyKey(), guest).Return(nil)

	added, err := fx.Admit(ctx, guest)
	require.NoError(t, err)
	assert.True(t, added)
	assert.True(t, fx.IsAdmitted(guest))
	assert.Equal(t, []string{guest}, fx.admitted)

	added, err = fx.Admit(ctx, guest)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Len(t, fx.AdmittedFeeds(), 2)

	t.Run("invalid key", func(t *testing.T) {
		_, err := fx.Admit(ctx, "not a key")
		require.ErrorIs(t, err, ErrInvalidCredential)
	})
	t.Run("recorder error", func(t *testing.T) {
		other := newKey(t).GetPublic().String()
		fx.recorder.EXPECT().AddAdmittedFeed(ctx, fx.PartyKey(), other).Return(errors.New("disk"))
		_, err := fx.Admit(ctx, other)
		require.Error(t, err)
		assert.False(t, fx.IsAdmitted(other))
	})
}

func TestPartyProcessor_ProcessCredential(t *testing.T) {
	t.Run("genesis", func(t *testing.T) {
		fx := newFixture(t)
		feed := newKey(t).GetPublic().String()
		fx.recorder.EXPECT().AddAdmittedFeed(ctx, fx.PartyKey(), feed).Return(nil)
		require.NoError(t, fx.ProcessCredential(ctx, fx.credential(t, mutation.CredentialPartyGenesis, feed, fx.partyKey)))
		assert.True(t, fx.IsAdmitted(feed))
	})
	t.Run("genesis not by party key", func(t *testing.T) {
		fx := newFixture(t)
		feed := newKey(t).GetPublic().String()
		err := fx.ProcessCredential(ctx, fx.credential(t, mutation.CredentialPartyGenesis, feed, fx.genesis))
		require.ErrorIs(t, err, ErrInvalidCredential)
		assert.False(t, fx.IsAdmitted(feed))
	})
	t.Run("admit by admitted feed", func(t *testing.T) {
		fx := newFixture(t)
		feed := newKey(t).GetPublic().String()
		fx.recorder.EXPECT().AddAdmittedFeed(ctx, fx.PartyKey(), feed).Return(nil)
		require.NoError(t, fx.ProcessCredential(ctx, fx.credential(t, mutation.CredentialAdmitFeed, feed, fx.genesis)))
		assert.True(t, fx.IsAdmitted(feed))
	})
	t.Run("unknown issuer", func(t *testing.T) {
		fx := newFixture(t)
		feed := newKey(t).GetPublic().String()
		err := fx.ProcessCredential(ctx, fx.credential(t, mutation.CredentialAdmitFeed, feed, newKey(t)))
		require.ErrorIs(t, err, ErrUnknownIssuer)
	})
	t.Run("bad signature", func(t *testing.T) {
		fx := newFixture(t)
		c := fx.credential(t, mutation.CredentialAdmitFeed, newKey(t).GetPublic().String(), fx.genesis)
		c.Signature[0] ^= 0xff
		require.ErrorIs(t, fx.ProcessCredential(ctx, c), ErrInvalidSignature)
	})
	t.Run("other party", func(t *testing.T) {
		fx := newFixture(t)
		other := newKey(t)
		c, err := NewCredential(mutation.CredentialAdmitFeed, other.GetPublic().String(), newKey(t).GetPublic().String(), other)
		require.NoError(t, err)
		require.ErrorIs(t, fx.ProcessCredential(ctx, c), ErrWrongParty)
	})
	t.Run("unknown type", func(t *testing.T) {
		fx := newFixture(t)
		c := fx.credential(t, mutation.CredentialUnknown, newKey(t).GetPublic().String(), fx.partyKey)
		require.ErrorIs(t, fx.ProcessCredential(ctx, c), ErrInvalidCredential)
	})
}
