// Package party is the handle of one open party: item queries and writes, admissions and replication.
package party

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/dxos/dxos-sub075/app/logger"
	"github.com/dxos/dxos-sub075/echo/feedstore"
	"github.com/dxos/dxos-sub075/echo/metadatastore"
	"github.com/dxos/dxos-sub075/echo/model"
	"github.com/dxos/dxos-sub075/echo/mutation"
	"github.com/dxos/dxos-sub075/echo/partyprocessor"
	"github.com/dxos/dxos-sub075/echo/pipeline"
	"github.com/dxos/dxos-sub075/echo/replicator"
	"github.com/dxos/dxos-sub075/echo/snapshotstore"
	"github.com/dxos/dxos-sub075/metric"
	"github.com/dxos/dxos-sub075/util/crypto"
	"github.com/dxos/dxos-sub075/util/periodicsync"
)

const CName = "echo.party"

var log = logger.NewNamed(CName)

var ErrPartyClosed = errors.New("party is closed")

const snapshotCheckPeriod = 10 * time.Second

type Deps struct {
	Metadata      metadatastore.PartyMetadata
	FeedStore     feedstore.FeedStore
	MetadataStore metadatastore.MetadataStore
	SnapshotStore snapshotstore.SnapshotStore
	Registry      *model.Registry
	Pipeline      pipeline.Config
	Replicator    replicator.Config
	Metrics       *metric.EchoMetrics
}

type Party struct {
	md          metadatastore.PartyMetadata
	ownKey      crypto.PrivKey
	pipeline    *pipeline.Pipeline
	replicator  *replicator.Replicator
	snapshots   snapshotstore.SnapshotStore
	snapshotter periodicsync.PeriodicSync
	interval    uint64
	log         logger.CtxLogger

	ctx    context.Context
	cancel context.CancelFunc

	// savedTotal is the total messages of the last saved snapshot
	savedTotal  atomic.Uint64
	unsubscribe func()
	closed      atomic.Bool
}

// Open restores the party from metadata and the latest snapshot and starts the pipeline
func Open(ctx context.Context, deps Deps) (p *Party, err error) {
	md := deps.Metadata
	p = &Party{
		md:        md,
		snapshots: deps.SnapshotStore,
		interval:  deps.Pipeline.WithDefaults().SnapshotInterval,
		log:       log.With(zap.String("partyKey", md.PartyKey)),
	}
	if p.ownKey, err = crypto.UnmarshalEd25519PrivateKey(md.OwnFeedSecret); err != nil {
		return nil, fmt.Errorf("own feed secret: %w", err)
	}
	ownFeed, err := deps.FeedStore.OpenFeed(ctx, md.OwnFeedKey, md.PartyKey)
	if err != nil {
		return nil, fmt.Errorf("open own feed: %w", err)
	}

	var snapshot *mutation.Snapshot
	snap, err := deps.SnapshotStore.Load(ctx, md.PartyKey)
	switch {
	case err == nil:
		snapshot = &snap
		p.savedTotal.Store(snap.Timeframe.TotalMessages())
	case errors.Is(err, snapshotstore.ErrSnapshotNotFound):
	default:
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	processor := partyprocessor.New(md.PartyKey, md.AdmittedFeeds, deps.MetadataStore)
	p.pipeline = pipeline.New(pipeline.Deps{
		PartyKey:  md.PartyKey,
		Config:    deps.Pipeline,
		FeedStore: deps.FeedStore,
		Processor: processor,
		Registry:  deps.Registry,
		OwnFeed:   ownFeed,
		OwnKey:    p.ownKey,
		Snapshot:  snapshot,
		Metrics:   deps.Metrics,
	})
	if err = p.pipeline.Open(ctx); err != nil {
		return nil, err
	}
	p.replicator = replicator.New(deps.Replicator, p.pipeline, deps.Metrics)
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.snapshotter = periodicsync.NewPeriodicSyncDuration(snapshotCheckPeriod, time.Minute, p.checkSnapshot, p.log)
	p.unsubscribe = p.pipeline.OnUpdate(func(string, uint64) {
		p.snapshotter.Kick()
	})
	p.snapshotter.Run()
	p.log.Info("party opened", zap.Stringer("timeframe", p.pipeline.Timeframe()))
	return p, nil
}

func (p *Party) Key() string {
	return p.md.PartyKey
}

// PartyKey is the same as Key, the party serves invitations as an admitter
func (p *Party) PartyKey() string {
	return p.md.PartyKey
}

func (p *Party) GenesisFeedKey() string {
	return p.md.GenesisFeedKey
}

func (p *Party) OwnFeedKey() string {
	return p.md.OwnFeedKey
}

func (p *Party) Pipeline() *pipeline.Pipeline {
	return p.pipeline
}

// Query subscribes to items matching the predicate, the subscription must be closed by the caller
func (p *Party) Query(predicate model.Predicate) *pipeline.Subscription {
	return p.pipeline.Query(predicate)
}

func (p *Party) Item(id string) (model.Item, bool) {
	return p.pipeline.Item(id)
}

// Mutate changes properties of an item, nil values remove properties
func (p *Party) Mutate(ctx context.Context, itemID string, changes map[string]any) error {
	if p.closed.Load() {
		return ErrPartyClosed
	}
	return p.pipeline.Mutate(ctx, itemID, "", changes)
}

// CreateItem creates an item of the model type with initial properties and returns its id
func (p *Party) CreateItem(ctx context.Context, itemType string, props map[string]any) (string, error) {
	if p.closed.Load() {
		return "", ErrPartyClosed
	}
	if itemType == "" {
		itemType = model.ObjectModelType
	}
	id := uuid.NewString()
	if props == nil {
		props = map[string]any{}
	}
	if err := p.pipeline.Mutate(ctx, id, itemType, props); err != nil {
		return "", err
	}
	return id, nil
}

func (p *Party) DeleteItem(ctx context.Context, itemID string) error {
	if p.closed.Load() {
		return ErrPartyClosed
	}
	return p.pipeline.DeleteItem(ctx, itemID)
}

// WriteGenesis writes the credential admitting the own feed signed by the party key
func (p *Party) WriteGenesis(ctx context.Context, partyKey crypto.PrivKey) error {
	c, err := partyprocessor.NewCredential(mutation.CredentialPartyGenesis, p.md.PartyKey, p.md.OwnFeedKey, partyKey)
	if err != nil {
		return err
	}
	return p.pipeline.WriteCredential(ctx, c)
}

// AdmitFeed admits a guest feed and writes the admission credential so that other members learn about it
func (p *Party) AdmitFeed(ctx context.Context, feedKey string) ([]string, error) {
	if p.closed.Load() {
		return nil, ErrPartyClosed
	}
	processor := p.pipeline.Processor()
	if _, err := processor.Admit(ctx, feedKey); err != nil {
		return nil, err
	}
	c, err := partyprocessor.NewCredential(mutation.CredentialAdmitFeed, p.md.PartyKey, feedKey, p.ownKey)
	if err != nil {
		return nil, err
	}
	if err = p.pipeline.WriteCredential(ctx, c); err != nil {
		return nil, fmt.Errorf("write admission: %w", err)
	}
	return processor.AdmittedFeeds(), nil
}

// HandleReplication replicates the party over the stream until the stream, ctx or the party is closed
func (p *Party) HandleReplication(ctx context.Context, stream net.Conn) error {
	if p.closed.Load() {
		return ErrPartyClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.ctx, cancel)
	defer stop()
	return p.replicator.Handle(ctx, stream)
}

// SaveSnapshot saves the current state when it's ahead of the saved one
func (p *Party) SaveSnapshot(ctx context.Context) error {
	snap, err := p.pipeline.Snapshot()
	if err != nil {
		return err
	}
	total := snap.Timeframe.TotalMessages()
	if total <= p.savedTotal.Load() {
		return nil
	}
	if err = p.snapshots.Save(ctx, snap); err != nil {
		return err
	}
	p.savedTotal.Store(total)
	p.log.Debug("snapshot saved", zap.Uint64("totalMessages", total))
	return nil
}

func (p *Party) checkSnapshot(ctx context.Context) error {
	if p.pipeline.State() != pipeline.StateOpen {
		return nil
	}
	if p.pipeline.Timeframe().TotalMessages() < p.savedTotal.Load()+p.interval {
		return nil
	}
	return p.SaveSnapshot(ctx)
}

func (p *Party) EchoStat() metric.StatState {
	return metric.StatState{
		OpenParties:   1,
		PendingBlocks: uint64(p.pipeline.PendingBlocks()),
		TotalMessages: p.pipeline.Timeframe().TotalMessages(),
	}
}

// Close saves a final snapshot and closes the pipeline
func (p *Party) Close(ctx context.Context) error {
	if p.closed.Swap(true) {
		return nil
	}
	p.cancel()
	p.unsubscribe()
	p.snapshotter.Close()
	if p.pipeline.State() == pipeline.StateOpen {
		if err := p.SaveSnapshot(ctx); err != nil {
			p.log.Warn("can't save snapshot", zap.Error(err))
		}
	}
	return p.pipeline.Close(ctx)
}
