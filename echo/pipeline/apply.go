package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/cheggaaa/mb/v3"
	"go.uber.org/zap"

	"github.com/dxos/dxos-sub075/echo/model"
	"github.com/dxos/dxos-sub075/echo/mutation"
	"github.com/dxos/dxos-sub075/echo/partyprocessor"
)

// headBlock is the next unconsumed block of a feed
type headBlock struct {
	feedKey string
	seq     uint64
	clock   uint64
	msg     mutation.FeedMessage
	// decodeErr is set for a corrupt block
	decodeErr error
}

// less orders candidates by (clock, feed key)
func (h *headBlock) less(o *headBlock) bool {
	if h.clock != o.clock {
		return h.clock < o.clock
	}
	return h.feedKey < o.feedKey
}

func (p *Pipeline) applyLoop(ctx context.Context, wake *mb.MB[string], done chan struct{}) {
	defer close(done)
	for {
		if err := p.syncFeeds(ctx, wake); err != nil {
			p.loopError(ctx, err)
			return
		}
		applied, err := p.applyNext(ctx)
		if err != nil {
			p.loopError(ctx, err)
			return
		}
		if applied {
			continue
		}
		if _, err = wake.Wait(ctx); err != nil {
			return
		}
	}
}

func (p *Pipeline) loopError(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	p.fault(err)
}

// applyNext applies the min ready block, it returns false when no feed has a ready block
func (p *Pipeline) applyNext(ctx context.Context) (bool, error) {
	p.mu.Lock()
	tf := p.timeframe
	feeds := make([]*feedState, 0, len(p.feeds))
	for _, fs := range p.feeds {
		feeds = append(feeds, fs)
	}
	p.mu.Unlock()

	var best *headBlock
	for _, fs := range feeds {
		next := tf.Get(fs.feed.Key()) + 1
		if fs.feed.Length() < next {
			continue
		}
		h, err := p.readHead(ctx, fs, next)
		if err != nil {
			return false, err
		}
		if best == nil || h.less(best) {
			best = h
		}
	}
	if best == nil {
		return false, nil
	}
	return true, p.apply(ctx, best)
}

func (p *Pipeline) readHead(ctx context.Context, fs *feedState, seq uint64) (*headBlock, error) {
	if fs.head != nil && fs.head.seq == seq {
		return fs.head, nil
	}
	b, err := fs.feed.Get(ctx, seq)
	if err != nil {
		return nil, fmt.Errorf("read block %s/%d: %w", fs.feed.Key(), seq, err)
	}
	h := &headBlock{feedKey: fs.feed.Key(), seq: seq}
	sb, err := mutation.UnmarshalSignedBlock(b.Data)
	if err != nil {
		h.decodeErr = err
	} else if h.msg, h.decodeErr = mutation.UnmarshalFeedMessage(sb.Payload); h.decodeErr == nil && h.msg.Envelope != nil {
		h.clock = h.msg.Envelope.Clock
	}
	fs.head = h
	return h, nil
}

func (p *Pipeline) apply(ctx context.Context, h *headBlock) error {
	p.applyMu.Lock()
	defer p.applyMu.Unlock()

	var changed bool
	switch {
	case h.decodeErr != nil:
		p.log.Warn("skipping corrupt block", zap.String("feedKey", h.feedKey), zap.Uint64("seq", h.seq), zap.Error(h.decodeErr))
		p.metrics.Skipped(p.partyKey)
	case h.msg.Credential != nil:
		err := p.processor.ProcessCredential(ctx, *h.msg.Credential)
		if errors.Is(err, partyprocessor.ErrInvalidCredential) {
			p.log.Warn("skipping invalid credential", zap.String("feedKey", h.feedKey), zap.Uint64("seq", h.seq), zap.Error(err))
			p.metrics.Skipped(p.partyKey)
		} else if err != nil {
			return err
		} else {
			p.metrics.Applied(p.partyKey)
		}
	default:
		changed = p.runtime.ProcessMessage(model.Message{FeedKey: h.feedKey, Seq: h.seq, Envelope: h.msg.Envelope})
		p.metrics.Applied(p.partyKey)
	}

	p.mu.Lock()
	p.timeframe = p.timeframe.Set(h.feedKey, h.seq)
	p.broadcastLocked()
	var subs []*Subscription
	if changed {
		p.version++
		subs = p.subsLocked()
	}
	p.mu.Unlock()
	for _, s := range subs {
		s.wakeUp()
	}
	return nil
}
