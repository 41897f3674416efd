package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/yamux"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/dxos/dxos-sub075/app/logger"
	"github.com/dxos/dxos-sub075/net/connutil"
)

var log = logger.NewNamed("net.peer")

var (
	ErrUnknownProtocol = errors.New("unknown stream protocol")
	ErrPeerClosed      = errors.New("peer is closed")
)

const msgTypeProto = byte(1)

// StreamHandler serves an accepted stream, the stream is closed after the handler returns
type StreamHandler func(ctx context.Context, stream net.Conn) error

// Peer is one swarm connection multiplexed into protocol streams
type Peer interface {
	Context() context.Context
	Addr() string
	// OpenStream opens a stream served by the remote handler of the protocol
	OpenStream(ctx context.Context, proto string) (net.Conn, error)
	LastUsage() time.Time
	IsClosed() bool
	CloseChan() <-chan struct{}
	Close() error
}

// NewPeer wraps the connection into a yamux session, the initiator side is the yamux client
func NewPeer(ctx context.Context, conn net.Conn, initiator bool, handlers map[string]StreamHandler) (Peer, error) {
	luc := connutil.NewLastUsageConn(conn)
	conf := yamux.DefaultConfig()
	conf.EnableKeepAlive = false
	conf.LogOutput = io.Discard
	var (
		sess *yamux.Session
		err  error
	)
	if initiator {
		sess, err = yamux.Client(luc, conf)
	} else {
		sess, err = yamux.Server(luc, conf)
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	addr := conn.RemoteAddr().String()
	p := &peer{
		ctx:      CtxWithPeerAddr(ctx, addr),
		addr:     addr,
		luConn:   luc,
		sess:     sess,
		handlers: handlers,
		active:   make(map[net.Conn]struct{}),
	}
	go p.acceptLoop()
	return p, nil
}

type peer struct {
	ctx      context.Context
	addr     string
	luConn   *connutil.LastUsageConn
	sess     *yamux.Session
	handlers map[string]StreamHandler
	closed   atomic.Bool

	mu     sync.Mutex
	active map[net.Conn]struct{}
}

func (p *peer) Context() context.Context {
	return p.ctx
}

func (p *peer) Addr() string {
	return p.addr
}

func (p *peer) LastUsage() time.Time {
	return p.luConn.LastUsage()
}

func (p *peer) OpenStream(ctx context.Context, proto string) (net.Conn, error) {
	if p.IsClosed() {
		return nil, ErrPeerClosed
	}
	stream, err := p.sess.Open()
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetWriteDeadline(deadline)
	}
	if err = WriteFrame(stream, msgTypeProto, []byte(proto)); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("write stream header: %w", err)
	}
	_ = stream.SetWriteDeadline(time.Time{})
	return stream, nil
}

func (p *peer) acceptLoop() {
	for {
		stream, err := p.sess.Accept()
		if err != nil {
			if !errors.Is(err, yamux.ErrSessionShutdown) && !errors.Is(err, io.EOF) {
				log.Debug("accept error", zap.String("addr", p.addr), zap.Error(err))
			}
			_ = p.Close()
			return
		}
		go p.serve(stream)
	}
}

func (p *peer) serve(stream net.Conn) {
	defer func() {
		_ = stream.Close()
	}()
	tp, payload, err := ReadFrame(stream, nil)
	if err != nil {
		log.Debug("read stream header error", zap.String("addr", p.addr), zap.Error(err))
		return
	}
	proto := string(payload)
	handler, ok := p.handlers[proto]
	if tp != msgTypeProto || !ok {
		log.Warn("incoming stream rejected", zap.String("addr", p.addr), zap.String("proto", proto), zap.Error(ErrUnknownProtocol))
		return
	}
	p.mu.Lock()
	p.active[stream] = struct{}{}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.active, stream)
		p.mu.Unlock()
	}()
	if err = handler(p.ctx, stream); err != nil && !errors.Is(err, io.EOF) {
		log.Debug("stream handler error", zap.String("addr", p.addr), zap.String("proto", proto), zap.Error(err))
	}
}

func (p *peer) IsClosed() bool {
	return p.closed.Load() || p.sess.IsClosed()
}

func (p *peer) CloseChan() <-chan struct{} {
	return p.sess.CloseChan()
}

func (p *peer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.mu.Lock()
	for stream := range p.active {
		_ = stream.Close()
	}
	p.mu.Unlock()
	return p.sess.Close()
}
