// Package snapshotstore keeps the latest snapshot per party
package snapshotstore

import (
	"context"
	"errors"
	"fmt"

	anystore "github.com/anyproto/any-store"
	"github.com/anyproto/any-store/anyenc"
	"github.com/anyproto/any-store/query"

	"github.com/dxos/dxos-sub075/echo/mutation"
	"github.com/dxos/dxos-sub075/util/storeutil"
)

var ErrSnapshotNotFound = errors.New("snapshot not found")

const (
	snapshotsCollectionName = "snapshots"

	dataKey          = "d"
	totalMessagesKey = "t"
)

type SnapshotStore interface {
	Load(ctx context.Context, partyKey string) (mutation.Snapshot, error)
	// Save replaces the stored snapshot, an older snapshot than the stored one is ignored
	Save(ctx context.Context, s mutation.Snapshot) error
}

func New(ctx context.Context, db anystore.DB) (SnapshotStore, error) {
	coll, err := db.Collection(ctx, snapshotsCollectionName)
	if err != nil {
		return nil, err
	}
	return &snapshotStore{coll: coll}, nil
}

type snapshotStore struct {
	coll anystore.Collection
}

func (s *snapshotStore) Load(ctx context.Context, partyKey string) (mutation.Snapshot, error) {
	doc, err := s.coll.FindId(ctx, partyKey)
	if err != nil {
		if errors.Is(err, anystore.ErrDocNotFound) {
			return mutation.Snapshot{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, partyKey)
		}
		return mutation.Snapshot{}, err
	}
	return mutation.UnmarshalSnapshot(storeutil.CopyBytes(doc.Value(), dataKey))
}

func (s *snapshotStore) Save(ctx context.Context, snap mutation.Snapshot) error {
	total := snap.Timeframe.TotalMessages()
	data := snap.Marshal()
	mod := query.ModifyFunc(func(a *anyenc.Arena, v *anyenc.Value) (result *anyenc.Value, modified bool, err error) {
		if v.Get(dataKey) != nil && storeutil.Uint64(v, totalMessagesKey) > total {
			return v, false, nil
		}
		v.Set(dataKey, a.NewBinary(data))
		v.Set(totalMessagesKey, a.NewNumberInt(int(total)))
		return v, true, nil
	})
	_, err := s.coll.UpsertId(ctx, snap.PartyKey, mod)
	return err
}
