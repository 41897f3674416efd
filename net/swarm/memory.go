package swarm

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

// MemoryNetwork connects in-process swarms with net.Pipe
type MemoryNetwork struct {
	mu     sync.Mutex
	swarms []*memorySwarm
	links  map[memoryLink]struct{}
}

type memoryLink struct {
	a, b  string
	topic string
}

func newMemoryLink(a, b, topic string) memoryLink {
	if a > b {
		a, b = b, a
	}
	return memoryLink{a: a, b: b, topic: topic}
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{links: make(map[memoryLink]struct{})}
}

// NewSwarm adds a swarm with the unique name to the network
func (n *MemoryNetwork) NewSwarm(name string) Swarm {
	s := &memorySwarm{
		name:   name,
		net:    n,
		topics: make(map[string]struct{}),
	}
	n.mu.Lock()
	n.swarms = append(n.swarms, s)
	n.mu.Unlock()
	return s
}

type memorySwarm struct {
	name string
	net  *MemoryNetwork

	mu       sync.Mutex
	topics   map[string]struct{}
	handlers []ConnHandler
}

func (s *memorySwarm) Advertise(topic string) error {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()

	n := s.net
	n.mu.Lock()
	var remotes []*memorySwarm
	for _, other := range n.swarms {
		if other == s || !other.hasTopic(topic) {
			continue
		}
		link := newMemoryLink(s.name, other.name, topic)
		if _, ok := n.links[link]; ok {
			continue
		}
		n.links[link] = struct{}{}
		remotes = append(remotes, other)
	}
	n.mu.Unlock()

	for _, other := range remotes {
		local, remote := s.pipe(other)
		log.Debug("memory swarm peers matched", zap.String("local", s.name), zap.String("remote", other.name), zap.String("topic", topic))
		s.dispatch(topic, local, true)
		other.dispatch(topic, remote, false)
	}
	return nil
}

func (s *memorySwarm) Unadvertise(topic string) error {
	s.mu.Lock()
	if _, ok := s.topics[topic]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotAdvertised, topic)
	}
	delete(s.topics, topic)
	s.mu.Unlock()

	n := s.net
	n.mu.Lock()
	for link := range n.links {
		if link.topic == topic && (link.a == s.name || link.b == s.name) {
			delete(n.links, link)
		}
	}
	n.mu.Unlock()
	return nil
}

func (s *memorySwarm) Connect(ctx context.Context, topic string) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := s.net
	n.mu.Lock()
	idx := slices.IndexFunc(n.swarms, func(other *memorySwarm) bool {
		return other != s && other.hasTopic(topic)
	})
	var remote *memorySwarm
	if idx != -1 {
		remote = n.swarms[idx]
	}
	n.mu.Unlock()
	if remote == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoPeers, topic)
	}
	local, remoteConn := s.pipe(remote)
	remote.dispatch(topic, remoteConn, false)
	return local, nil
}

func (s *memorySwarm) OnPeerConnected(handler ConnHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

func (s *memorySwarm) hasTopic(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.topics[topic]
	return ok
}

func (s *memorySwarm) pipe(remote *memorySwarm) (local, remoteConn net.Conn) {
	a, b := net.Pipe()
	return &memoryConn{Conn: a, local: memoryAddr(s.name), remote: memoryAddr(remote.name)},
		&memoryConn{Conn: b, local: memoryAddr(remote.name), remote: memoryAddr(s.name)}
}

func (s *memorySwarm) dispatch(topic string, conn net.Conn, initiator bool) {
	s.mu.Lock()
	handlers := slices.Clone(s.handlers)
	s.mu.Unlock()
	if len(handlers) == 0 {
		_ = conn.Close()
		return
	}
	for _, h := range handlers {
		go h(context.Background(), topic, conn, initiator)
	}
}

type memoryAddr string

func (a memoryAddr) Network() string { return "memory" }

func (a memoryAddr) String() string { return string(a) }

type memoryConn struct {
	net.Conn
	local, remote net.Addr
}

func (c *memoryConn) LocalAddr() net.Addr { return c.local }

func (c *memoryConn) RemoteAddr() net.Addr { return c.remote }
