package feedstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	anystore "github.com/anyproto/any-store"
	"github.com/anyproto/any-store/anyenc"
	"github.com/anyproto/any-store/query"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/dxos/dxos-sub075/app/logger"
	"github.com/dxos/dxos-sub075/util/storeutil"
)

var log = logger.NewNamed("echo.feedstore")

/**

any-store layout:
	feeds collection, one doc per feed:
		id (string) - feed key
		p (string) - party key
		w (bool) - writable
		l (int) - length
	blocks.<feed key> collection, one doc per block:
		id (string) - zero padded seq
		s (int) - seq
		d (bytes) - data
*/

const (
	feedsCollectionName        = "feeds"
	blocksCollectionNamePrefix = "blocks."

	idKey       = "id"
	partyKey    = "p"
	writableKey = "w"
	lengthKey   = "l"
	seqKey      = "s"
	dataKey     = "d"
)

func New(ctx context.Context, db anystore.DB) (FeedStore, error) {
	feedsColl, err := db.Collection(ctx, feedsCollectionName)
	if err != nil {
		return nil, err
	}
	partyIdx := anystore.IndexInfo{
		Name:   partyKey,
		Fields: []string{partyKey},
	}
	if err = feedsColl.EnsureIndex(ctx, partyIdx); err != nil && !errors.Is(err, anystore.ErrIndexExists) {
		return nil, err
	}
	return &feedStore{
		db:        db,
		feedsColl: feedsColl,
		feeds:     make(map[string]*feed),
	}, nil
}

type feedStore struct {
	db        anystore.DB
	feedsColl anystore.Collection
	mu        sync.Mutex
	feeds     map[string]*feed
}

func (s *feedStore) CreateFeed(ctx context.Context, key, party string) (Feed, error) {
	if key == "" {
		return nil, ErrInvalidFeedKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.feedsColl.FindId(ctx, key); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrFeedExists, key)
	} else if !errors.Is(err, anystore.ErrDocNotFound) {
		return nil, err
	}
	arena := &anyenc.Arena{}
	doc := arena.NewObject()
	doc.Set(idKey, arena.NewString(key))
	doc.Set(partyKey, arena.NewString(party))
	doc.Set(writableKey, arena.NewTrue())
	doc.Set(lengthKey, arena.NewNumberInt(0))
	if err := s.feedsColl.Insert(ctx, doc); err != nil {
		return nil, err
	}
	return s.openLocked(ctx, FeedInfo{Key: key, PartyKey: party, Writable: true})
}

func (s *feedStore) OpenFeed(ctx context.Context, key, party string) (Feed, error) {
	if key == "" {
		return nil, ErrInvalidFeedKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.feeds[key]; ok {
		return f, nil
	}
	doc, err := s.feedsColl.FindId(ctx, key)
	if err == nil {
		return s.openLocked(ctx, infoFromDoc(doc))
	}
	if !errors.Is(err, anystore.ErrDocNotFound) {
		return nil, err
	}
	arena := &anyenc.Arena{}
	newDoc := arena.NewObject()
	newDoc.Set(idKey, arena.NewString(key))
	newDoc.Set(partyKey, arena.NewString(party))
	newDoc.Set(writableKey, arena.NewFalse())
	newDoc.Set(lengthKey, arena.NewNumberInt(0))
	if err = s.feedsColl.Insert(ctx, newDoc); err != nil {
		return nil, err
	}
	return s.openLocked(ctx, FeedInfo{Key: key, PartyKey: party})
}

func (s *feedStore) openLocked(ctx context.Context, info FeedInfo) (*feed, error) {
	if f, ok := s.feeds[info.Key]; ok {
		return f, nil
	}
	coll, err := s.db.Collection(ctx, blocksCollectionNamePrefix+info.Key)
	if err != nil {
		return nil, err
	}
	seqIdx := anystore.IndexInfo{
		Name:   seqKey,
		Fields: []string{seqKey},
		Unique: true,
	}
	if err = coll.EnsureIndex(ctx, seqIdx); err != nil && !errors.Is(err, anystore.ErrIndexExists) {
		return nil, err
	}
	f := &feed{
		info:  info,
		store: s,
		coll:  coll,
		arena: &anyenc.Arena{},
		subs:  make(map[int]func(uint64)),
	}
	f.length.Store(info.Length)
	s.feeds[info.Key] = f
	log.Debug("feed opened", zap.String("feedKey", info.Key), zap.Uint64("length", info.Length), zap.Bool("writable", info.Writable))
	return f, nil
}

func (s *feedStore) ListFeeds(ctx context.Context, party string) (infos []FeedInfo, err error) {
	var qry any
	if party != "" {
		qry = query.Key{Path: []string{partyKey}, Filter: query.NewComp(query.CompOpEq, party)}
	}
	iter, err := s.feedsColl.Find(qry).Sort(idKey).Iter(ctx)
	if err != nil {
		return nil, fmt.Errorf("find iter: %w", err)
	}
	defer iter.Close()
	for iter.Next() {
		doc, err := iter.Doc()
		if err != nil {
			return nil, fmt.Errorf("doc not found: %w", err)
		}
		info := infoFromDoc(doc)
		s.mu.Lock()
		if f, ok := s.feeds[info.Key]; ok {
			info.Length = f.Length()
		}
		s.mu.Unlock()
		infos = append(infos, info)
	}
	return
}

func infoFromDoc(doc anystore.Doc) FeedInfo {
	return FeedInfo{
		Key:      doc.Value().GetString(idKey),
		PartyKey: doc.Value().GetString(partyKey),
		Writable: doc.Value().GetBool(writableKey),
		Length:   storeutil.Uint64(doc.Value(), lengthKey),
	}
}

type feed struct {
	info   FeedInfo
	store  *feedStore
	coll   anystore.Collection
	length atomic.Uint64

	mu    sync.Mutex
	arena *anyenc.Arena

	subMu   sync.Mutex
	subs    map[int]func(uint64)
	nextSub int
}

func (f *feed) Key() string {
	return f.info.Key
}

func (f *feed) Writable() bool {
	return f.info.Writable
}

func (f *feed) Length() uint64 {
	return f.length.Load()
}

func (f *feed) Append(ctx context.Context, data []byte) (seq uint64, err error) {
	if !f.info.Writable {
		return 0, ErrReadOnly
	}
	f.mu.Lock()
	seq = f.length.Load() + 1
	err = f.insertLocked(ctx, seq, data)
	f.mu.Unlock()
	if err != nil {
		return 0, err
	}
	f.notify(seq)
	return seq, nil
}

func (f *feed) Write(ctx context.Context, seq uint64, data []byte) error {
	if f.info.Writable {
		return ErrReadOnly
	}
	f.mu.Lock()
	length := f.length.Load()
	if seq <= length {
		f.mu.Unlock()
		stored, err := f.Get(ctx, seq)
		if err != nil {
			return err
		}
		if !bytes.Equal(stored.Data, data) {
			return fmt.Errorf("%w: %s/%d", ErrBlockMismatch, f.info.Key, seq)
		}
		return nil
	}
	if seq != length+1 {
		f.mu.Unlock()
		return fmt.Errorf("%w: got %d, length %d", ErrNotContiguous, seq, length)
	}
	err := f.insertLocked(ctx, seq, data)
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.notify(seq)
	return nil
}

func (f *feed) insertLocked(ctx context.Context, seq uint64, data []byte) (err error) {
	tx, err := f.store.db.WriteTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to create write tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	defer f.arena.Reset()
	doc := f.arena.NewObject()
	doc.Set(idKey, f.arena.NewString(seqId(seq)))
	doc.Set(seqKey, f.arena.NewNumberInt(int(seq)))
	doc.Set(dataKey, f.arena.NewBinary(data))
	if err = f.coll.Insert(tx.Context(), doc); err != nil {
		return
	}
	mod := query.ModifyFunc(func(a *anyenc.Arena, v *anyenc.Value) (result *anyenc.Value, modified bool, err error) {
		v.Set(lengthKey, a.NewNumberInt(int(seq)))
		return v, true, nil
	})
	if _, err = f.store.feedsColl.UpsertId(tx.Context(), f.info.Key, mod); err != nil {
		return
	}
	if err = tx.Commit(); err != nil {
		return
	}
	f.length.Store(seq)
	return nil
}

func (f *feed) Get(ctx context.Context, seq uint64) (Block, error) {
	if seq == 0 || seq > f.length.Load() {
		return Block{}, fmt.Errorf("%w: %s/%d", ErrBlockNotFound, f.info.Key, seq)
	}
	doc, err := f.coll.FindId(ctx, seqId(seq))
	if err != nil {
		if errors.Is(err, anystore.ErrDocNotFound) {
			return Block{}, fmt.Errorf("%w: %s/%d", ErrBlockNotFound, f.info.Key, seq)
		}
		return Block{}, err
	}
	return f.blockFromDoc(doc), nil
}

func (f *feed) ReadFrom(ctx context.Context, seq uint64) (Iterator, error) {
	qry := f.coll.Find(query.Key{Path: []string{seqKey}, Filter: query.NewComp(query.CompOpGte, int(seq))}).Sort(seqKey)
	iter, err := qry.Iter(ctx)
	if err != nil {
		return nil, fmt.Errorf("find iter: %w", err)
	}
	return &blockIterator{feed: f, iter: iter}, nil
}

func (f *feed) Subscribe(fn func(length uint64)) (unsubscribe func()) {
	f.subMu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = fn
	f.subMu.Unlock()
	return func() {
		f.subMu.Lock()
		delete(f.subs, id)
		f.subMu.Unlock()
	}
}

func (f *feed) notify(length uint64) {
	f.subMu.Lock()
	fns := make([]func(uint64), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.subMu.Unlock()
	for _, fn := range fns {
		fn(length)
	}
}

func (f *feed) blockFromDoc(doc anystore.Doc) Block {
	return Block{
		FeedKey: f.info.Key,
		Seq:     storeutil.Uint64(doc.Value(), seqKey),
		Data:    storeutil.CopyBytes(doc.Value(), dataKey),
	}
}

type blockIterator struct {
	feed *feed
	iter anystore.Iterator
}

func (bi *blockIterator) Next() bool {
	return bi.iter.Next()
}

func (bi *blockIterator) Block() (Block, error) {
	doc, err := bi.iter.Doc()
	if err != nil {
		return Block{}, err
	}
	return bi.feed.blockFromDoc(doc), nil
}

func (bi *blockIterator) Close() error {
	return bi.iter.Close()
}

func seqId(seq uint64) string {
	return fmt.Sprintf("%020d", seq)
}
