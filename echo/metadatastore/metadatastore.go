// Package metadatastore persists parties known to the node: own feed secrets and admitted feed sets.
package metadatastore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	anystore "github.com/anyproto/any-store"
	"github.com/anyproto/any-store/anyenc"
	"github.com/anyproto/any-store/query"
	"golang.org/x/exp/slices"

	"github.com/dxos/dxos-sub075/util/storeutil"
)

var (
	ErrPartyNotFound = errors.New("party not found")
	ErrPartyExists   = errors.New("party already exists")
)

const (
	partiesCollectionName = "parties"

	idKey            = "id"
	genesisFeedKey   = "g"
	ownFeedKey       = "o"
	ownFeedSecretKey = "os"
	partySecretKey   = "ps"
	admittedKey      = "a"
)

type PartyMetadata struct {
	PartyKey       string
	GenesisFeedKey string
	OwnFeedKey     string
	OwnFeedSecret  []byte
	// PartySecret is known to the party creator only
	PartySecret   []byte
	AdmittedFeeds []string
}

type MetadataStore interface {
	AddParty(ctx context.Context, md PartyMetadata) error
	GetParty(ctx context.Context, partyKey string) (PartyMetadata, error)
	ListParties(ctx context.Context) ([]PartyMetadata, error)
	// AddAdmittedFeed records an admitted feed, it's a no-op for an already admitted feed
	AddAdmittedFeed(ctx context.Context, partyKey, feedKey string) error
}

func New(ctx context.Context, db anystore.DB) (MetadataStore, error) {
	coll, err := db.Collection(ctx, partiesCollectionName)
	if err != nil {
		return nil, err
	}
	return &metadataStore{coll: coll, arena: &anyenc.Arena{}}, nil
}

type metadataStore struct {
	coll  anystore.Collection
	mu    sync.Mutex
	arena *anyenc.Arena
}

func (s *metadataStore) AddParty(ctx context.Context, md PartyMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.arena.Reset()
	a := s.arena
	doc := a.NewObject()
	doc.Set(idKey, a.NewString(md.PartyKey))
	doc.Set(genesisFeedKey, a.NewString(md.GenesisFeedKey))
	doc.Set(ownFeedKey, a.NewString(md.OwnFeedKey))
	doc.Set(ownFeedSecretKey, a.NewBinary(md.OwnFeedSecret))
	if len(md.PartySecret) != 0 {
		doc.Set(partySecretKey, a.NewBinary(md.PartySecret))
	}
	doc.Set(admittedKey, storeutil.StringsValue(md.AdmittedFeeds, a))
	err := s.coll.Insert(ctx, doc)
	if errors.Is(err, anystore.ErrDocExists) {
		return fmt.Errorf("%w: %s", ErrPartyExists, md.PartyKey)
	}
	return err
}

func (s *metadataStore) GetParty(ctx context.Context, partyKey string) (PartyMetadata, error) {
	doc, err := s.coll.FindId(ctx, partyKey)
	if err != nil {
		if errors.Is(err, anystore.ErrDocNotFound) {
			return PartyMetadata{}, fmt.Errorf("%w: %s", ErrPartyNotFound, partyKey)
		}
		return PartyMetadata{}, err
	}
	return metadataFromDoc(doc), nil
}

func (s *metadataStore) ListParties(ctx context.Context) (res []PartyMetadata, err error) {
	iter, err := s.coll.Find(nil).Sort(idKey).Iter(ctx)
	if err != nil {
		return nil, fmt.Errorf("find iter: %w", err)
	}
	defer iter.Close()
	for iter.Next() {
		doc, err := iter.Doc()
		if err != nil {
			return nil, fmt.Errorf("doc not found: %w", err)
		}
		res = append(res, metadataFromDoc(doc))
	}
	return
}

func (s *metadataStore) AddAdmittedFeed(ctx context.Context, partyKey, feedKey string) (err error) {
	tx, err := s.coll.WriteTx(ctx)
	if err != nil {
		return
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()
	if _, err = s.coll.FindId(tx.Context(), partyKey); err != nil {
		if errors.Is(err, anystore.ErrDocNotFound) {
			return fmt.Errorf("%w: %s", ErrPartyNotFound, partyKey)
		}
		return
	}
	mod := query.ModifyFunc(func(a *anyenc.Arena, v *anyenc.Value) (result *anyenc.Value, modified bool, err error) {
		admitted := storeutil.Strings(v, admittedKey)
		if slices.Contains(admitted, feedKey) {
			return v, false, nil
		}
		v.Set(admittedKey, storeutil.StringsValue(append(admitted, feedKey), a))
		return v, true, nil
	})
	_, err = s.coll.UpsertId(tx.Context(), partyKey, mod)
	return
}

func metadataFromDoc(doc anystore.Doc) PartyMetadata {
	v := doc.Value()
	return PartyMetadata{
		PartyKey:       v.GetString(idKey),
		GenesisFeedKey: v.GetString(genesisFeedKey),
		OwnFeedKey:     v.GetString(ownFeedKey),
		OwnFeedSecret:  storeutil.CopyBytes(v, ownFeedSecretKey),
		PartySecret:    storeutil.CopyBytes(v, partySecretKey),
		AdmittedFeeds:  storeutil.Strings(v, admittedKey),
	}
}
