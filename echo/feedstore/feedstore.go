//go:generate mockgen -destination mock_feedstore/mock_feedstore.go github.com/dxos/dxos-sub075/echo/feedstore FeedStore,Feed
package feedstore

import (
	"context"
	"errors"
)

var (
	ErrFeedNotFound   = errors.New("feed not found")
	ErrFeedExists     = errors.New("feed already exists")
	ErrReadOnly       = errors.New("feed is read-only")
	ErrNotContiguous  = errors.New("block is not contiguous")
	ErrBlockNotFound  = errors.New("block not found")
	ErrBlockMismatch  = errors.New("block differs from the stored one")
	ErrStoreIsClosed  = errors.New("feed store is closed")
	ErrInvalidFeedKey = errors.New("invalid feed key")
)

// Block is one entry of a feed, seqs start at 1
type Block struct {
	FeedKey string
	Seq     uint64
	Data    []byte
}

type FeedInfo struct {
	Key      string
	PartyKey string
	Writable bool
	Length   uint64
}

// FeedStore keeps append-only feeds
type FeedStore interface {
	// CreateFeed creates a writable feed owned by this node
	CreateFeed(ctx context.Context, key, partyKey string) (Feed, error)
	// OpenFeed opens a feed, a read-only feed is created when it doesn't exist yet
	OpenFeed(ctx context.Context, key, partyKey string) (Feed, error)
	// ListFeeds lists feeds of the party, all feeds when partyKey is empty
	ListFeeds(ctx context.Context, partyKey string) ([]FeedInfo, error)
}

// Feed is an append-only log. Implementations are safe for concurrent use.
type Feed interface {
	Key() string
	Writable() bool
	// Length returns the seq of the last stored block
	Length() uint64
	// Append adds a local block and returns its seq
	Append(ctx context.Context, data []byte) (seq uint64, err error)
	// Write stores a replicated block, seq must be Length()+1. Writing an already stored identical block is a no-op.
	Write(ctx context.Context, seq uint64, data []byte) error
	Get(ctx context.Context, seq uint64) (Block, error)
	// ReadFrom iterates blocks starting at seq in order
	ReadFrom(ctx context.Context, seq uint64) (Iterator, error)
	// Subscribe registers a callback called with the new length after each stored block
	Subscribe(fn func(length uint64)) (unsubscribe func())
}

type Iterator interface {
	Next() bool
	Block() (Block, error)
	Close() error
}
