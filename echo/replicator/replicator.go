//go:generate mockgen -destination mock_replicator/mock_replicator.go github.com/dxos/dxos-sub075/echo/replicator Pipeline
package replicator

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cheggaaa/mb/v3"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dxos/dxos-sub075/app/logger"
	"github.com/dxos/dxos-sub075/echo/feedstore"
	"github.com/dxos/dxos-sub075/echo/pipeline"
	"github.com/dxos/dxos-sub075/echo/timeframe"
	"github.com/dxos/dxos-sub075/metric"
	"github.com/dxos/dxos-sub075/net/peer"
	"github.com/dxos/dxos-sub075/util/periodicsync"
)

const (
	CName = "echo.replicator"
	// ProtoName is the stream protocol served by the replicator
	ProtoName = "echo/replicator/1"
)

var log = logger.NewNamed(CName)

type Config struct {
	// QueueSize bounds outgoing messages per connection, a full queue blocks the sender
	QueueSize    int           `yaml:"queueSize"`
	ResyncPeriod time.Duration `yaml:"resyncPeriod"`
	// AdvertiseInterval is the minimal interval between advertisements caused by feed updates
	AdvertiseInterval time.Duration `yaml:"advertiseInterval"`
}

func (c Config) WithDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.ResyncPeriod <= 0 {
		c.ResyncPeriod = 30 * time.Second
	}
	if c.AdvertiseInterval <= 0 {
		c.AdvertiseInterval = 100 * time.Millisecond
	}
	return c
}

// Pipeline is the part of the party pipeline the replicator reads from and feeds
type Pipeline interface {
	PartyKey() string
	EndTimeframe() timeframe.Timeframe
	Block(ctx context.Context, feedKey string, seq uint64) (feedstore.Block, error)
	Receive(ctx context.Context, b feedstore.Block) error
	OnUpdate(fn pipeline.UpdateListener) (unsubscribe func())
}

// Replicator exchanges feed blocks of one party with peers
type Replicator struct {
	conf    Config
	pl      Pipeline
	metrics *metric.EchoMetrics
}

func New(conf Config, pl Pipeline, metrics *metric.EchoMetrics) *Replicator {
	return &Replicator{conf: conf.WithDefaults(), pl: pl, metrics: metrics}
}

// Handle runs the exchange over the stream until the stream fails or ctx is done.
// Both sides of a connection run the same exchange.
func (r *Replicator) Handle(ctx context.Context, stream net.Conn) error {
	sctx, cancel := context.WithCancel(ctx)
	s := &session{
		Replicator: r,
		stream:     stream,
		log:        log.With(zap.String("partyKey", r.pl.PartyKey()), zap.String("peer", peer.CtxPeerAddr(ctx))),
		blocks:     mb.New[message](r.conf.QueueSize),
		ctrl:       mb.New[message](0),
		requests:   mb.New[request](0),
		inflight:   make(map[string]inflightRequest),
		kick:       make(chan struct{}, 1),
		limiter:    rate.NewLimiter(rate.Every(r.conf.AdvertiseInterval), 1),
	}
	s.resync = periodicsync.NewPeriodicSyncDuration(r.conf.ResyncPeriod, 0, s.resyncNow, s.log)
	unsubscribe := r.pl.OnUpdate(func(string, uint64) {
		s.kickAdvertise()
	})

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		s.writeLoop(sctx, s.ctrl)
	}()
	go func() {
		defer wg.Done()
		s.writeLoop(sctx, s.blocks)
	}()
	go func() {
		defer wg.Done()
		s.serveLoop(sctx)
	}()
	go func() {
		defer wg.Done()
		s.advertiseLoop(sctx)
	}()
	go func() {
		<-sctx.Done()
		_ = stream.Close()
	}()
	s.resync.Run()

	err := s.readLoop(sctx)
	unsubscribe()
	cancel()
	s.resync.Close()
	_ = s.ctrl.Close()
	_ = s.blocks.Close()
	_ = s.requests.Close()
	wg.Wait()
	if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

type session struct {
	*Replicator
	stream net.Conn
	log    logger.CtxLogger

	// ctrl carries advertisements and requests, blocks is bounded and blocks the serving side when full
	ctrl     *mb.MB[message]
	blocks   *mb.MB[message]
	writeMu  sync.Mutex
	requests *mb.MB[request]
	resync   periodicsync.PeriodicSync
	kick     chan struct{}
	limiter  *rate.Limiter

	mu       sync.Mutex
	inflight map[string]inflightRequest
}

// inflightRequest is the highest requested seq of a feed
type inflightRequest struct {
	to uint64
	at time.Time
}

func (s *session) kickAdvertise() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// resyncNow forgets requests that got no answer within the resync period and advertises again
func (s *session) resyncNow(ctx context.Context) error {
	s.mu.Lock()
	for key, req := range s.inflight {
		if time.Since(req.at) >= s.conf.ResyncPeriod {
			delete(s.inflight, key)
		}
	}
	s.mu.Unlock()
	s.kickAdvertise()
	return nil
}

func (s *session) advertiseLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		tf := s.pl.EndTimeframe()
		if err := s.ctrl.Add(ctx, message{Type: msgTypeAdvertise, Timeframe: tf}); err != nil {
			return
		}
	}
}

func (s *session) writeLoop(ctx context.Context, queue *mb.MB[message]) {
	for {
		msgs, err := queue.Wait(ctx)
		if err != nil {
			return
		}
		for _, m := range msgs {
			s.writeMu.Lock()
			err = peer.WriteFrame(s.stream, m.Type, m.marshal())
			s.writeMu.Unlock()
			if err != nil {
				s.log.Debug("write error", zap.Error(err))
				_ = s.stream.Close()
				return
			}
			if m.Type == msgTypeBlock {
				s.metrics.BlockSent(s.pl.PartyKey())
			}
		}
	}
}

func (s *session) serveLoop(ctx context.Context) {
	for {
		req, err := s.requests.WaitOne(ctx)
		if err != nil {
			return
		}
		for seq := req.From; seq <= req.To; seq++ {
			b, err := s.pl.Block(ctx, req.FeedKey, seq)
			if err != nil {
				s.log.Debug("can't serve requested block", zap.String("feedKey", req.FeedKey), zap.Uint64("seq", seq), zap.Error(err))
				break
			}
			if err = s.blocks.Add(ctx, message{Type: msgTypeBlock, Block: b}); err != nil {
				return
			}
		}
	}
}

func (s *session) readLoop(ctx context.Context) error {
	s.kickAdvertise()
	var buf []byte
	for {
		tp, payload, err := peer.ReadFrame(s.stream, buf)
		if err != nil {
			return err
		}
		buf = payload
		msg, err := unmarshalMessage(tp, payload)
		if err != nil {
			return err
		}
		switch msg.Type {
		case msgTypeAdvertise:
			if err = s.handleAdvertise(ctx, msg.Timeframe); err != nil {
				return err
			}
		case msgTypeRequest:
			if err = s.requests.Add(ctx, msg.Request); err != nil {
				return err
			}
		case msgTypeBlock:
			s.metrics.BlockReceived(s.pl.PartyKey())
			s.mu.Lock()
			if req, ok := s.inflight[msg.Block.FeedKey]; ok && msg.Block.Seq >= req.to {
				delete(s.inflight, msg.Block.FeedKey)
			}
			s.mu.Unlock()
			if err = s.pl.Receive(ctx, msg.Block); err != nil {
				return err
			}
		}
	}
}

// handleAdvertise requests blocks the peer has and this node neither stored nor requested yet
func (s *session) handleAdvertise(ctx context.Context, remote timeframe.Timeframe) error {
	local := s.pl.EndTimeframe()
	deps := timeframe.Dependencies(remote, local)
	var reqs []request
	s.mu.Lock()
	for _, f := range deps.Frames() {
		from := max(local.Get(f.Key), s.inflight[f.Key].to) + 1
		if from > f.Seq {
			continue
		}
		s.inflight[f.Key] = inflightRequest{to: f.Seq, at: time.Now()}
		reqs = append(reqs, request{FeedKey: f.Key, From: from, To: f.Seq})
	}
	s.mu.Unlock()
	for _, req := range reqs {
		s.log.Debug("request blocks", zap.String("feedKey", req.FeedKey), zap.Uint64("from", req.From), zap.Uint64("to", req.To))
		if err := s.ctrl.Add(ctx, message{Type: msgTypeRequest, Request: req}); err != nil {
			return err
		}
	}
	return nil
}
