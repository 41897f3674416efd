package swarm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dxos/dxos-sub075/app"
	"github.com/dxos/dxos-sub075/net/connutil"
	"github.com/dxos/dxos-sub075/net/peer"
	"github.com/dxos/dxos-sub075/util/periodicsync"
)

const (
	msgTypeHello byte = 1
	msgTypeAck   byte = 2

	helloSep = "\x00"
)

func New() Component {
	return new(tcpSwarm)
}

// tcpSwarm listens on a tcp address and dials a static list of peers.
// A dialer sends the topic in a hello frame, the listener acks it only when it advertises that topic.
type tcpSwarm struct {
	conf Config

	listener  net.Listener
	ctx       context.Context
	ctxCancel context.CancelFunc
	redial    periodicsync.PeriodicSync

	mu       sync.Mutex
	topics   map[string]struct{}
	live     map[liveKey]struct{}
	handlers []ConnHandler
	closed   bool
}

type liveKey struct {
	topic string
	addr  string
}

func (s *tcpSwarm) Init(a *app.App) (err error) {
	s.conf = a.MustComponent("config").(configGetter).GetSwarm()
	s.topics = make(map[string]struct{})
	s.live = make(map[liveKey]struct{})
	s.ctx, s.ctxCancel = context.WithCancel(context.Background())
	s.redial = periodicsync.NewPeriodicSyncDuration(s.conf.RetryPeriod, s.conf.DialTimeout*time.Duration(len(s.conf.Peers)+1), s.dialAdvertised, log)
	return
}

func (s *tcpSwarm) Name() (name string) {
	return CName
}

func (s *tcpSwarm) Run(ctx context.Context) (err error) {
	if s.conf.ListenAddr != "" {
		if s.listener, err = net.Listen("tcp", s.conf.ListenAddr); err != nil {
			return
		}
		go s.acceptLoop(s.ctx, s.listener)
	}
	s.redial.Run()
	return
}

// ListenAddr returns the bound address or the empty string when the swarm doesn't listen
func (s *tcpSwarm) ListenAddr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *tcpSwarm) Advertise(topic string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSwarmIsClosed
	}
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
	s.redial.Kick()
	return nil
}

func (s *tcpSwarm) Unadvertise(topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.topics[topic]; !ok {
		return fmt.Errorf("%w: %s", ErrNotAdvertised, topic)
	}
	delete(s.topics, topic)
	return nil
}

func (s *tcpSwarm) OnPeerConnected(handler ConnHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

func (s *tcpSwarm) Connect(ctx context.Context, topic string) (conn net.Conn, err error) {
	if len(s.conf.Peers) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPeers, topic)
	}
	var errs []error
	for _, addr := range s.conf.Peers {
		if conn, err = s.dial(ctx, addr, topic); err == nil {
			return conn, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrNoPeers, topic, errors.Join(errs...))
}

// dialAdvertised dials every configured peer that has no live connection for an advertised topic
func (s *tcpSwarm) dialAdvertised(ctx context.Context) error {
	s.mu.Lock()
	var targets []liveKey
	for topic := range s.topics {
		for _, addr := range s.conf.Peers {
			k := liveKey{topic: topic, addr: addr}
			if _, ok := s.live[k]; !ok {
				targets = append(targets, k)
			}
		}
	}
	s.mu.Unlock()

	for _, k := range targets {
		conn, err := s.dial(ctx, k.addr, k.topic)
		if err != nil {
			log.Debug("peer dial failed", zap.String("addr", k.addr), zap.String("topic", k.topic), zap.Error(err))
			continue
		}
		if tc, ok := s.track(k, conn); ok {
			s.dispatch(k.topic, tc, true)
		} else {
			_ = conn.Close()
		}
	}
	return nil
}

func (s *tcpSwarm) dial(ctx context.Context, addr, topic string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, s.conf.DialTimeout)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	if err = s.hello(conn, topic); err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return connutil.NewTimeout(conn, s.conf.WriteTimeout), nil
}

func (s *tcpSwarm) hello(conn net.Conn, topic string) error {
	if err := peer.WriteFrame(conn, msgTypeHello, []byte(topic+helloSep+s.ListenAddr())); err != nil {
		return err
	}
	tp, payload, err := peer.ReadFrame(conn, nil)
	if err != nil {
		return err
	}
	if tp != msgTypeAck || len(payload) != 1 {
		return fmt.Errorf("unexpected hello reply: %d", tp)
	}
	if payload[0] != 1 {
		return fmt.Errorf("%w: %s", ErrTopicRejected, topic)
	}
	return nil
}

func (s *tcpSwarm) acceptLoop(ctx context.Context, list net.Listener) {
	l := log.With(zap.String("localAddr", list.Addr().String()))
	l.Info("swarm listener started")
	defer func() {
		l.Debug("swarm listener stopped")
	}()
	for {
		conn, err := list.Accept()
		if err != nil {
			if isTemporary(err) {
				l.Debug("listener temporary accept error", zap.Error(err))
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
				continue
			}
			if !errors.Is(err, net.ErrClosed) {
				l.Error("listener closed with error", zap.Error(err))
			} else {
				l.Info("listener closed")
			}
			return
		}
		go s.accept(conn)
	}
}

func (s *tcpSwarm) accept(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(s.conf.DialTimeout))
	tp, payload, err := peer.ReadFrame(conn, nil)
	if err != nil || tp != msgTypeHello {
		log.Warn("incoming connection hello error", zap.String("remoteAddr", conn.RemoteAddr().String()), zap.Error(err))
		_ = conn.Close()
		return
	}
	topic, remoteListen, _ := strings.Cut(string(payload), helloSep)
	s.mu.Lock()
	_, advertised := s.topics[topic]
	s.mu.Unlock()
	ack := []byte{0}
	if advertised {
		ack[0] = 1
	}
	if err = peer.WriteFrame(conn, msgTypeAck, ack); err != nil || !advertised {
		_ = conn.Close()
		return
	}
	_ = conn.SetDeadline(time.Time{})

	var tc net.Conn = connutil.NewTimeout(conn, s.conf.WriteTimeout)
	if remoteListen != "" {
		// a connection in the other direction may exist, this one is kept untracked then
		tc, _ = s.track(liveKey{topic: topic, addr: remoteListen}, tc)
	}
	s.dispatch(topic, tc, false)
}

// track marks the peer as connected for the topic until the connection is closed
func (s *tcpSwarm) track(k liveKey, conn net.Conn) (net.Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live[k]; ok {
		return conn, false
	}
	s.live[k] = struct{}{}
	return &trackedConn{Conn: conn, onClose: func() {
		s.mu.Lock()
		delete(s.live, k)
		s.mu.Unlock()
	}}, true
}

func (s *tcpSwarm) dispatch(topic string, conn net.Conn, initiator bool) {
	s.mu.Lock()
	handlers := append([]ConnHandler(nil), s.handlers...)
	s.mu.Unlock()
	if len(handlers) == 0 {
		_ = conn.Close()
		return
	}
	for _, h := range handlers {
		go h(s.ctx, topic, conn, initiator)
	}
}

func (s *tcpSwarm) Close(ctx context.Context) (err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	if s.ctxCancel != nil {
		s.ctxCancel()
	}
	if s.redial != nil {
		s.redial.Close()
	}
	if s.listener != nil {
		err = s.listener.Close()
	}
	return
}

type trackedConn struct {
	net.Conn
	once    sync.Once
	onClose func()
}

func (c *trackedConn) Close() error {
	c.once.Do(c.onClose)
	return c.Conn.Close()
}

func isTemporary(err error) bool {
	var nErr net.Error
	if errors.As(err, &nErr) {
		//nolint:staticcheck
		return nErr.Temporary()
	}
	return false
}
