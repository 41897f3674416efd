// Package pipeline orders blocks of the admitted party feeds and folds them into the model runtime.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cheggaaa/mb/v3"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/dxos/dxos-sub075/app/logger"
	"github.com/dxos/dxos-sub075/echo/feedstore"
	"github.com/dxos/dxos-sub075/echo/model"
	"github.com/dxos/dxos-sub075/echo/mutation"
	"github.com/dxos/dxos-sub075/echo/partyprocessor"
	"github.com/dxos/dxos-sub075/echo/timeframe"
	"github.com/dxos/dxos-sub075/metric"
	"github.com/dxos/dxos-sub075/util/crypto"
	"github.com/dxos/dxos-sub075/util/periodicsync"
)

const CName = "echo.pipeline"

var log = logger.NewNamed(CName)

var (
	ErrPipelineClosed = errors.New("pipeline is closed")
	ErrPipelineOpen   = errors.New("pipeline is already open")
	ErrNotWritable    = errors.New("party has no writable feed")
	ErrNotAdmitted    = errors.New("own feed is not admitted")

	ErrInvalidSignature = errors.New("invalid block signature")
)

type State int32

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Deps struct {
	PartyKey  string
	Config    Config
	FeedStore feedstore.FeedStore
	Processor *partyprocessor.PartyProcessor
	Registry  *model.Registry
	// OwnFeed is nil when the node can't write into the party
	OwnFeed feedstore.Feed
	// OwnKey signs the blocks appended to OwnFeed
	OwnKey crypto.PrivKey
	// Snapshot seeds the runtime and the timeframe on the first Open
	Snapshot *mutation.Snapshot
	Metrics  *metric.EchoMetrics
}

// UpdateListener is called when a feed of the party grows
type UpdateListener func(feedKey string, length uint64)

type feedState struct {
	feed        feedstore.Feed
	reorder     *reorderBuffer
	unsubscribe func()
	// head is the decoded next block, owned by the apply loop
	head *headBlock
}

type Pipeline struct {
	partyKey  string
	cfg       Config
	store     feedstore.FeedStore
	processor *partyprocessor.PartyProcessor
	runtime   *model.Runtime
	ownFeed   feedstore.Feed
	ownKey    crypto.PrivKey
	metrics   *metric.EchoMetrics
	pending   *pendingArena
	log       logger.CtxLogger

	snapshot   *mutation.Snapshot
	admitDirty atomic.Bool

	// applyMu is held while a block is applied
	applyMu sync.Mutex
	// writeMu serializes own feed appends, a block is signed for the seq it gets
	writeMu sync.Mutex

	mu            sync.Mutex
	state         State
	err           error
	timeframe     timeframe.Timeframe
	changed       chan struct{}
	feeds         map[string]*feedState
	version       uint64
	subs          map[*Subscription]struct{}
	updateSubs    map[int]UpdateListener
	nextUpdateSub int

	loopCancel context.CancelFunc
	loopDone   chan struct{}
	wake       *mb.MB[string]
	evictor    periodicsync.PeriodicSync
}

func New(deps Deps) *Pipeline {
	cfg := deps.Config.WithDefaults()
	p := &Pipeline{
		partyKey:   deps.PartyKey,
		cfg:        cfg,
		store:      deps.FeedStore,
		processor:  deps.Processor,
		runtime:    model.NewRuntime(deps.Registry, deps.PartyKey),
		ownFeed:    deps.OwnFeed,
		ownKey:     deps.OwnKey,
		metrics:    deps.Metrics,
		pending:    newPendingArena(cfg.PendingMaxBlocks, cfg.PendingMaxAge),
		log:        log.With(zap.String("partyKey", deps.PartyKey)),
		snapshot:   deps.Snapshot,
		changed:    make(chan struct{}),
		feeds:      make(map[string]*feedState),
		subs:       make(map[*Subscription]struct{}),
		updateSubs: make(map[int]UpdateListener),
	}
	p.processor.OnAdmit(p.onAdmit)
	return p
}

func (p *Pipeline) PartyKey() string {
	return p.partyKey
}

// OwnFeedKey returns the key of the writable feed or an empty string
func (p *Pipeline) OwnFeedKey() string {
	if p.ownFeed == nil {
		return ""
	}
	return p.ownFeed.Key()
}

func (p *Pipeline) Processor() *partyprocessor.PartyProcessor {
	return p.processor
}

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Err returns the fault that closed the pipeline, it's reset by Open
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Pipeline) Open(ctx context.Context) (err error) {
	p.mu.Lock()
	if p.state != StateClosed {
		p.mu.Unlock()
		return ErrPipelineOpen
	}
	p.state = StateOpening
	p.err = nil
	p.mu.Unlock()

	defer func() {
		if err != nil {
			p.setState(StateClosed)
		}
	}()
	if p.snapshot != nil {
		if err = p.runtime.Restore(*p.snapshot); err != nil {
			return fmt.Errorf("restore snapshot: %w", err)
		}
		p.mu.Lock()
		p.timeframe = p.snapshot.Timeframe
		p.mu.Unlock()
		p.log.Info("restored from snapshot", zap.Stringer("timeframe", p.snapshot.Timeframe))
		p.snapshot = nil
	}

	wake := mb.New[string](0)
	p.mu.Lock()
	p.wake = wake
	p.mu.Unlock()
	p.admitDirty.Store(true)
	if err = p.syncFeeds(ctx, wake); err != nil {
		_ = wake.Close()
		p.mu.Lock()
		p.wake = nil
		p.mu.Unlock()
		p.unsubscribeFeeds()
		return fmt.Errorf("open feeds: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	evictor := periodicsync.NewPeriodicSyncDuration(p.cfg.PendingMaxAge/2, 0, p.evictPending, p.log)

	p.mu.Lock()
	p.loopCancel = cancel
	p.loopDone = done
	p.evictor = evictor
	p.state = StateOpen
	p.mu.Unlock()

	evictor.Run()
	go p.applyLoop(loopCtx, wake, done)
	p.log.Debug("pipeline opened", zap.Stringer("timeframe", p.Timeframe()))
	return nil
}

// Close stops the apply loop, a block being applied is applied completely
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateOpen {
		p.mu.Unlock()
		return nil
	}
	p.state = StateClosing
	cancel, done := p.loopCancel, p.loopDone
	p.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		go func() {
			<-done
			p.release()
		}()
		return ctx.Err()
	}
	p.release()
	p.log.Debug("pipeline closed")
	return nil
}

// fault records a storage error and closes the pipeline
func (p *Pipeline) fault(err error) {
	p.mu.Lock()
	if p.state != StateOpen {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.state = StateClosing
	cancel, done := p.loopCancel, p.loopDone
	p.mu.Unlock()

	p.log.Error("pipeline fault", zap.Error(err))
	cancel()
	go func() {
		<-done
		p.release()
	}()
}

func (p *Pipeline) release() {
	p.mu.Lock()
	wake, evictor := p.wake, p.evictor
	p.wake, p.evictor = nil, nil
	p.mu.Unlock()
	if wake != nil {
		_ = wake.Close()
	}
	if evictor != nil {
		evictor.Close()
	}
	p.unsubscribeFeeds()
	p.setState(StateClosed)
}

func (p *Pipeline) unsubscribeFeeds() {
	p.mu.Lock()
	feeds := p.feeds
	p.feeds = make(map[string]*feedState)
	p.mu.Unlock()
	for _, fs := range feeds {
		fs.unsubscribe()
	}
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.broadcastLocked()
	subs := p.subsLocked()
	p.mu.Unlock()
	for _, sub := range subs {
		sub.wakeUp()
	}
}

func (p *Pipeline) broadcastLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

func (p *Pipeline) onAdmit(feedKey string) {
	p.admitDirty.Store(true)
	p.mu.Lock()
	wake := p.wake
	p.mu.Unlock()
	if wake != nil {
		_ = wake.TryAdd(feedKey)
	}
}

// syncFeeds opens feeds admitted since the last call and drains their pending blocks
func (p *Pipeline) syncFeeds(ctx context.Context, wake *mb.MB[string]) error {
	if !p.admitDirty.Swap(false) {
		return nil
	}
	for _, key := range p.processor.AdmittedFeeds() {
		p.mu.Lock()
		_, opened := p.feeds[key]
		p.mu.Unlock()
		if opened {
			continue
		}
		f, err := p.store.OpenFeed(ctx, key, p.partyKey)
		if err != nil {
			p.admitDirty.Store(true)
			return fmt.Errorf("open feed %s: %w", key, err)
		}
		fs := &feedState{feed: f, reorder: newReorderBuffer(p.cfg.ReorderMaxBlocks)}
		fs.unsubscribe = f.Subscribe(func(length uint64) {
			_ = wake.TryAdd(key)
			p.notifyUpdate(key, length)
		})

		p.mu.Lock()
		p.feeds[key] = fs
		pending := p.pending.Take(key)
		p.mu.Unlock()

		p.log.Debug("feed attached", zap.String("feedKey", key), zap.Uint64("length", f.Length()), zap.Int("pending", len(pending)))
		for _, b := range pending {
			if err = p.ingest(ctx, fs, b); err != nil {
				return err
			}
		}
		_ = wake.TryAdd(key)
	}
	return nil
}

func (p *Pipeline) evictPending(ctx context.Context) error {
	if dropped := p.pending.Evict(); dropped > 0 {
		p.log.Warn("pending blocks expired", zap.Int("dropped", dropped))
		p.metrics.Dropped(p.partyKey, dropped)
	}
	return nil
}

// Receive accepts a replicated block. Blocks not signed by their feed key are dropped.
// Blocks of unadmitted feeds are buffered until admission, blocks of admitted feeds are stored in seq order.
func (p *Pipeline) Receive(ctx context.Context, b feedstore.Block) error {
	if p.State() != StateOpen {
		return ErrPipelineClosed
	}
	if err := verifyBlock(b); err != nil {
		p.log.Warn("block rejected", zap.String("feedKey", b.FeedKey), zap.Uint64("seq", b.Seq), zap.Error(err))
		p.metrics.Rejected(p.partyKey)
		return nil
	}
	p.mu.Lock()
	if p.state != StateOpen {
		p.mu.Unlock()
		return ErrPipelineClosed
	}
	fs, ok := p.feeds[b.FeedKey]
	if !ok {
		added := p.pending.Add(b)
		p.mu.Unlock()
		if added {
			p.metrics.Buffered(p.partyKey)
		} else {
			p.log.Warn("pending arena is full, block dropped", zap.String("feedKey", b.FeedKey), zap.Uint64("seq", b.Seq))
			p.metrics.Dropped(p.partyKey, 1)
		}
		return nil
	}
	p.mu.Unlock()
	if fs.feed.Writable() {
		return nil
	}
	if err := p.ingest(ctx, fs, b); err != nil {
		if ctx.Err() == nil {
			p.fault(err)
		}
		return err
	}
	return nil
}

func (p *Pipeline) ingest(ctx context.Context, fs *feedState, b feedstore.Block) error {
	if b.Seq == 0 {
		return nil
	}
	if b.Seq > fs.feed.Length()+1 {
		if !fs.reorder.Put(b) {
			p.log.Warn("reorder buffer is full, block dropped", zap.String("feedKey", b.FeedKey), zap.Uint64("seq", b.Seq))
			p.metrics.Dropped(p.partyKey, 1)
		}
	} else if err := p.writeBlock(ctx, fs, b); err != nil {
		return err
	}
	for {
		blocks := fs.reorder.PopContiguous(fs.feed.Length())
		if len(blocks) == 0 {
			return nil
		}
		for _, rb := range blocks {
			if err := p.writeBlock(ctx, fs, rb); err != nil {
				return err
			}
		}
	}
}

func (p *Pipeline) writeBlock(ctx context.Context, fs *feedState, b feedstore.Block) error {
	err := fs.feed.Write(ctx, b.Seq, b.Data)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, feedstore.ErrBlockMismatch):
		p.log.Warn("replicated block differs from the stored one", zap.String("feedKey", b.FeedKey), zap.Uint64("seq", b.Seq))
		return nil
	case errors.Is(err, feedstore.ErrNotContiguous):
		// a concurrent writer got ahead, the block goes back to the buffer
		fs.reorder.Put(b)
		return nil
	default:
		return fmt.Errorf("write block %s/%d: %w", b.FeedKey, b.Seq, err)
	}
}

// Timeframe returns the timeframe of applied blocks
func (p *Pipeline) Timeframe() timeframe.Timeframe {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timeframe
}

// EndTimeframe returns stored lengths of the attached feeds
func (p *Pipeline) EndTimeframe() timeframe.Timeframe {
	p.mu.Lock()
	defer p.mu.Unlock()
	frames := make([]timeframe.Frame, 0, len(p.feeds))
	for key, fs := range p.feeds {
		frames = append(frames, timeframe.Frame{Key: key, Seq: fs.feed.Length()})
	}
	return timeframe.New(frames...)
}

// PendingBlocks returns the number of blocks waiting for admission
func (p *Pipeline) PendingBlocks() int {
	return p.pending.Len()
}

// WaitUntilTimeframe blocks until the applied timeframe covers tf
func (p *Pipeline) WaitUntilTimeframe(ctx context.Context, tf timeframe.Timeframe) error {
	for {
		p.mu.Lock()
		covered := p.timeframe.Covers(tf)
		state, fault, changed := p.state, p.err, p.changed
		p.mu.Unlock()
		if covered {
			return nil
		}
		if state == StateClosed {
			if fault != nil {
				return fmt.Errorf("%w: %w", ErrPipelineClosed, fault)
			}
			return ErrPipelineClosed
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// Block reads a stored block of an attached feed
func (p *Pipeline) Block(ctx context.Context, feedKey string, seq uint64) (feedstore.Block, error) {
	p.mu.Lock()
	fs, ok := p.feeds[feedKey]
	p.mu.Unlock()
	if !ok {
		return feedstore.Block{}, fmt.Errorf("%w: %s", feedstore.ErrFeedNotFound, feedKey)
	}
	return fs.feed.Get(ctx, seq)
}

// OnUpdate subscribes to feed growth, both local appends and replicated writes
func (p *Pipeline) OnUpdate(fn UpdateListener) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextUpdateSub
	p.nextUpdateSub++
	p.updateSubs[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.updateSubs, id)
		p.mu.Unlock()
	}
}

func (p *Pipeline) notifyUpdate(feedKey string, length uint64) {
	p.mu.Lock()
	fns := make([]UpdateListener, 0, len(p.updateSubs))
	for _, fn := range p.updateSubs {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(feedKey, length)
	}
}

func (p *Pipeline) Item(id string) (model.Item, bool) {
	return p.runtime.Item(id)
}

func (p *Pipeline) Items(predicate model.Predicate) []model.Item {
	return p.runtime.Items(predicate)
}

// Mutate writes the change to the own feed and returns after the pipeline applied it
func (p *Pipeline) Mutate(ctx context.Context, itemID, itemType string, changes map[string]any) error {
	if err := p.checkWritable(); err != nil {
		return err
	}
	env, err := p.runtime.Write(itemID, itemType, changes)
	if err != nil {
		return err
	}
	return p.writeAndWait(ctx, mutation.FeedMessage{Envelope: env})
}

// DeleteItem writes a tombstone for the item
func (p *Pipeline) DeleteItem(ctx context.Context, itemID string) error {
	if err := p.checkWritable(); err != nil {
		return err
	}
	env, err := p.runtime.Delete(itemID)
	if err != nil {
		return err
	}
	return p.writeAndWait(ctx, mutation.FeedMessage{Envelope: env})
}

// WriteCredential writes the credential to the own feed and waits until it's processed
func (p *Pipeline) WriteCredential(ctx context.Context, c mutation.Credential) error {
	if p.ownFeed == nil || p.ownKey == nil {
		return ErrNotWritable
	}
	return p.writeAndWait(ctx, mutation.FeedMessage{Credential: &c})
}

func (p *Pipeline) checkWritable() error {
	if p.ownFeed == nil || p.ownKey == nil {
		return ErrNotWritable
	}
	if !p.processor.IsAdmitted(p.ownFeed.Key()) {
		return fmt.Errorf("%w: %s", ErrNotAdmitted, p.ownFeed.Key())
	}
	return nil
}

func (p *Pipeline) writeAndWait(ctx context.Context, msg mutation.FeedMessage) error {
	if p.State() != StateOpen {
		return ErrPipelineClosed
	}
	seq, err := p.appendSigned(ctx, msg.Marshal())
	if err != nil {
		if ctx.Err() == nil {
			p.fault(err)
		}
		return fmt.Errorf("append: %w", err)
	}
	return p.WaitUntilTimeframe(ctx, timeframe.New(timeframe.Frame{Key: p.ownFeed.Key(), Seq: seq}))
}

func (p *Pipeline) appendSigned(ctx context.Context, payload []byte) (uint64, error) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	seq := p.ownFeed.Length() + 1
	data, err := sealBlock(p.ownKey, p.ownFeed.Key(), seq, payload)
	if err != nil {
		return 0, err
	}
	got, err := p.ownFeed.Append(ctx, data)
	if err != nil {
		return 0, err
	}
	if got != seq {
		return 0, fmt.Errorf("own feed appended at %d, block is signed for %d", got, seq)
	}
	return seq, nil
}

// Snapshot captures the runtime state together with the timeframe it corresponds to
func (p *Pipeline) Snapshot() (mutation.Snapshot, error) {
	p.applyMu.Lock()
	defer p.applyMu.Unlock()
	items, deleted, err := p.runtime.Snapshot()
	if err != nil {
		return mutation.Snapshot{}, err
	}
	return mutation.Snapshot{
		PartyKey:  p.partyKey,
		Timeframe: p.Timeframe(),
		Clock:     p.runtime.Clock(),
		Items:     items,
		Deleted:   deleted,
	}, nil
}

// StateHash returns the applied timeframe and a digest of item states,
// replicas with equal timeframes have equal hashes
func (p *Pipeline) StateHash() (timeframe.Timeframe, uint64, error) {
	p.applyMu.Lock()
	defer p.applyMu.Unlock()
	h, err := p.runtime.Hash()
	return p.Timeframe(), h, err
}
