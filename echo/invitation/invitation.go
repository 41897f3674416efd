// Package invitation implements the secret-authenticated handshake admitting a guest feed into a party.
package invitation

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dxos/dxos-sub075/app/logger"
	"github.com/dxos/dxos-sub075/echo/invitation/invitationproto"
)

const (
	CName = "echo.invitation"
	// ProtoName is the stream protocol served by an invitation host
	ProtoName = "echo/invitation/1"

	secretDigits = 6
)

var log = logger.NewNamed(CName)

var (
	ErrTimeout         = errors.New("invitation timed out")
	ErrCancelled       = errors.New("invitation cancelled")
	ErrTooManyAttempts = errors.New("too many authentication attempts")
	ErrUnexpectedParty = errors.New("admitted to an unexpected party")
)

type Config struct {
	Timeout         time.Duration `yaml:"timeout"`
	MaxAuthAttempts int           `yaml:"maxAuthAttempts"`
	// AuthInterval paces authentication attempts of one guest
	AuthInterval time.Duration `yaml:"authInterval"`
}

func (c Config) WithDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	if c.MaxAuthAttempts <= 0 {
		c.MaxAuthAttempts = 3
	}
	if c.AuthInterval <= 0 {
		c.AuthInterval = 100 * time.Millisecond
	}
	return c
}

type State int32

const (
	StateInit State = iota
	StateConnected
	StateAuthenticating
	StateSuccess
	StateError
	StateCancelled
	StateTimeout
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateConnected:
		return "Connected"
	case StateAuthenticating:
		return "Authenticating"
	case StateSuccess:
		return "Success"
	case StateError:
		return "Error"
	case StateCancelled:
		return "Cancelled"
	case StateTimeout:
		return "Timeout"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

func (s State) IsTerminal() bool {
	return s >= StateSuccess
}

type AuthMethod = invitationproto.AuthMethod

const (
	AuthNone         = invitationproto.AuthMethod_None
	AuthSharedSecret = invitationproto.AuthMethod_SharedSecret
)

type Options struct {
	AuthMethod AuthMethod
	MultiUse   bool
	// Timeout overrides the configured timeout
	Timeout time.Duration
}

// Invitation is created by the host. The descriptor goes to the guest, the secret is passed separately.
type Invitation struct {
	ID         string
	SwarmKey   string
	Secret     []byte
	AuthMethod AuthMethod
	MultiUse   bool
	Timeout    time.Duration
}

// Descriptor is the part of the invitation the guest needs to connect
type Descriptor struct {
	ID         string
	SwarmKey   string
	AuthMethod AuthMethod
	Timeout    time.Duration
}

func (inv Invitation) Descriptor() Descriptor {
	return Descriptor{ID: inv.ID, SwarmKey: inv.SwarmKey, AuthMethod: inv.AuthMethod, Timeout: inv.Timeout}
}

// NewInvitation generates an id, a swarm key and a numeric secret for shared secret invitations
func NewInvitation(opts Options) (Invitation, error) {
	inv := Invitation{
		ID:         uuid.NewString(),
		SwarmKey:   uuid.NewString(),
		AuthMethod: opts.AuthMethod,
		MultiUse:   opts.MultiUse,
		Timeout:    opts.Timeout,
	}
	if opts.AuthMethod == AuthSharedSecret {
		secret, err := generateSecret(secretDigits)
		if err != nil {
			return Invitation{}, err
		}
		inv.Secret = secret
	}
	return inv, nil
}

func generateSecret(digits int) ([]byte, error) {
	secret := make([]byte, digits)
	ten := big.NewInt(10)
	for i := range secret {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return nil, err
		}
		secret[i] = byte('0' + n.Int64())
	}
	return secret, nil
}

type StateListener func(State)

// status is the state machine shared by the host and the guest side
type status struct {
	mu        sync.Mutex
	state     State
	err       error
	done      chan struct{}
	listeners []StateListener
}

func newStatus() *status {
	return &status{done: make(chan struct{})}
}

func (s *status) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error of the Error, Cancelled and Timeout states
func (s *status) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed when the invitation reaches a final state
func (s *status) Done() <-chan struct{} {
	return s.done
}

func (s *status) OnStateChange(fn StateListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// set moves to a non-final state, it's ignored after the final state
func (s *status) set(st State) {
	s.mu.Lock()
	if s.isDone() || s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	listeners := append([]StateListener(nil), s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(st)
	}
}

// finish moves to the final state, only the first call wins
func (s *status) finish(st State, err error) bool {
	s.mu.Lock()
	if s.isDone() {
		s.mu.Unlock()
		return false
	}
	s.state = st
	s.err = err
	close(s.done)
	listeners := append([]StateListener(nil), s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(st)
	}
	return true
}

func (s *status) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
