// Package swarm connects nodes that joined the same topic.
package swarm

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"

	"github.com/dxos/dxos-sub075/app"
	"github.com/dxos/dxos-sub075/app/logger"
)

const CName = "net.swarm"

var log = logger.NewNamed(CName)

var (
	ErrNoPeers        = errors.New("no peers for topic")
	ErrTopicRejected  = errors.New("topic rejected by peer")
	ErrSwarmIsClosed  = errors.New("swarm is closed")
	ErrNotAdvertised  = errors.New("topic is not advertised")
	ErrAlreadyStarted = errors.New("swarm already started")
)

// ConnHandler takes ownership of a connection made for the topic.
// The initiator side must be the multiplexing client.
type ConnHandler func(ctx context.Context, topic string, conn net.Conn, initiator bool)

type Swarm interface {
	// Advertise joins the topic, nodes that joined the same topic get connected
	Advertise(topic string) error
	// Unadvertise leaves the topic, established connections stay open
	Unadvertise(topic string) error
	// Connect dials a node that joined the topic, the connection is owned by the caller
	Connect(ctx context.Context, topic string) (net.Conn, error)
	// OnPeerConnected registers a handler for connections made by topic matching
	OnPeerConnected(handler ConnHandler)
}

// Component is a swarm registered in the app
type Component interface {
	Swarm
	app.ComponentRunnable
}

type configGetter interface {
	GetSwarm() Config
}

type Config struct {
	ListenAddr   string        `yaml:"listenAddr"`
	Peers        []string      `yaml:"peers"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	// RetryPeriod is the period of re-dialing disconnected peers of advertised topics
	RetryPeriod time.Duration `yaml:"retryPeriod"`
}

func (c Config) WithDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.RetryPeriod <= 0 {
		c.RetryPeriod = 30 * time.Second
	}
	return c
}

// DiscoveryKey derives the swarm topic from a public key so the key itself is never announced
func DiscoveryKey(key string) string {
	sum := blake3.Sum256([]byte(key))
	return base58.Encode(sum[:])
}
