package invitation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"storj.io/drpc"

	"github.com/dxos/dxos-sub075/app/logger"
	"github.com/dxos/dxos-sub075/echo/invitation/invitationproto"
	"github.com/dxos/dxos-sub075/net/rpc/rpcerr"
)

// Result is what the guest learns from the host on success
type Result struct {
	PartyKey       string
	GenesisFeedKey string
	FeedKeys       []string
}

// Guest drives the guest side of one invitation
type Guest struct {
	*status
	conf    Config
	desc    Descriptor
	feedKey string
	log     logger.CtxLogger

	secrets    chan []byte
	cancelCh   chan struct{}
	cancelOnce sync.Once

	result Result
}

// NewGuest prepares the guest side, feedKey is the guest feed to be admitted
func NewGuest(conf Config, desc Descriptor, feedKey string) *Guest {
	conf = conf.WithDefaults()
	g := &Guest{
		status:   newStatus(),
		conf:     conf,
		desc:     desc,
		feedKey:  feedKey,
		log:      log.With(zap.String("invitationId", desc.ID), zap.String("feedKey", feedKey)),
		secrets:  make(chan []byte, conf.MaxAuthAttempts),
		cancelCh: make(chan struct{}),
	}
	g.OnStateChange(func(st State) {
		g.log.Debug("guest state changed", zap.Stringer("state", st))
	})
	return g
}

func (g *Guest) Descriptor() Descriptor {
	return g.desc
}

// Authenticate supplies the secret, it can be called before the connection is made.
// A wrong secret may be followed by another call until attempts are exhausted.
func (g *Guest) Authenticate(secret []byte) {
	select {
	case g.secrets <- append([]byte(nil), secret...):
	default:
	}
}

func (g *Guest) Cancel() {
	g.cancelOnce.Do(func() {
		close(g.cancelCh)
	})
	g.finish(StateCancelled, ErrCancelled)
}

// Wait blocks until the handshake ends
func (g *Guest) Wait(ctx context.Context) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-g.Done():
	}
	return g.outcome()
}

func (g *Guest) outcome() (Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != StateSuccess {
		return Result{}, g.err
	}
	return g.result, nil
}

// Run performs the handshake over the connection to the host
func (g *Guest) Run(ctx context.Context, conn drpc.Conn) (Result, error) {
	timeout := g.desc.Timeout
	if timeout <= 0 {
		timeout = g.conf.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	go func() {
		select {
		case <-g.cancelCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	res, err := g.handshake(ctx, invitationproto.NewDRPCInvitationHostClient(conn))
	if err != nil {
		g.fail(ctx, err)
		return g.outcome()
	}
	g.mu.Lock()
	g.result = res
	g.mu.Unlock()
	g.finish(StateSuccess, nil)
	return g.outcome()
}

// Fail ends the handshake with an error that happened before Run, e.g. a failed connect
func (g *Guest) Fail(err error) {
	g.fail(context.Background(), err)
}

func (g *Guest) fail(ctx context.Context, err error) {
	switch {
	case g.isCancelled():
		g.finish(StateCancelled, ErrCancelled)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		g.finish(StateTimeout, ErrTimeout)
	default:
		g.log.Warn("invitation failed", zap.Error(err))
		g.finish(StateError, err)
	}
}

func (g *Guest) isCancelled() bool {
	select {
	case <-g.cancelCh:
		return true
	default:
		return false
	}
}

func (g *Guest) handshake(ctx context.Context, client invitationproto.DRPCInvitationHostClient) (res Result, err error) {
	g.set(StateConnected)
	intro, err := client.Introduce(ctx, &invitationproto.IntroduceRequest{InvitationId: g.desc.ID})
	if err != nil {
		return res, fmt.Errorf("introduce: %w", rpcerr.FromWire(err))
	}
	if intro.AuthMethod == AuthSharedSecret {
		if err = g.authenticate(ctx, client); err != nil {
			return
		}
	}
	admit, err := client.Admit(ctx, &invitationproto.AdmitRequest{FeedKey: g.feedKey})
	if err != nil {
		return res, fmt.Errorf("admit: %w", rpcerr.FromWire(err))
	}
	if intro.PartyKey != "" && intro.PartyKey != admit.PartyKey {
		return res, ErrUnexpectedParty
	}
	return Result{
		PartyKey:       admit.PartyKey,
		GenesisFeedKey: admit.GenesisFeedKey,
		FeedKeys:       admit.FeedKeys,
	}, nil
}

func (g *Guest) authenticate(ctx context.Context, client invitationproto.DRPCInvitationHostClient) error {
	for attempt := 1; ; attempt++ {
		var secret []byte
		select {
		case <-ctx.Done():
			return ctx.Err()
		case secret = <-g.secrets:
		}
		g.set(StateAuthenticating)
		resp, err := client.Authenticate(ctx, &invitationproto.AuthenticateRequest{Secret: secret})
		if err != nil {
			return fmt.Errorf("authenticate: %w", rpcerr.FromWire(err))
		}
		switch resp.Status {
		case invitationproto.AuthStatus_Ok:
			return nil
		case invitationproto.AuthStatus_InvalidSecret:
			if attempt >= g.conf.MaxAuthAttempts {
				return ErrTooManyAttempts
			}
			g.log.Info("invalid secret, waiting for another one", zap.Int("attempt", attempt))
			g.set(StateConnected)
		default:
			return ErrTooManyAttempts
		}
	}
}
