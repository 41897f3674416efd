//go:generate mockgen -destination mock_invitation/mock_invitation.go github.com/dxos/dxos-sub075/echo/invitation Admitter
package invitation

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"storj.io/drpc"
	"storj.io/drpc/drpcmux"
	"storj.io/drpc/drpcserver"

	"github.com/dxos/dxos-sub075/app/logger"
	"github.com/dxos/dxos-sub075/echo/invitation/invitationproto"
	"github.com/dxos/dxos-sub075/metric"
	"github.com/dxos/dxos-sub075/net/peer"
)

// Admitter admits a guest feed into the party of the invitation
type Admitter interface {
	PartyKey() string
	GenesisFeedKey() string
	// AdmitFeed admits the feed and returns the feed keys the guest needs to start replication
	AdmitFeed(ctx context.Context, feedKey string) (feedKeys []string, err error)
}

// Host serves guests connecting over the invitation swarm key
type Host struct {
	*status
	conf     Config
	inv      Invitation
	admitter Admitter
	metric   metric.Metric
	log      logger.CtxLogger
	timer    *time.Timer

	admitMu  sync.Mutex
	admitted []string
}

// NewHost starts the invitation timeout, m may be nil
func NewHost(conf Config, inv Invitation, admitter Admitter, m metric.Metric) *Host {
	conf = conf.WithDefaults()
	h := &Host{
		status:   newStatus(),
		conf:     conf,
		inv:      inv,
		admitter: admitter,
		metric:   m,
		log:      log.With(zap.String("invitationId", inv.ID), zap.String("partyKey", admitter.PartyKey())),
	}
	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = conf.Timeout
	}
	h.timer = time.AfterFunc(timeout, func() {
		if h.finish(StateTimeout, ErrTimeout) {
			h.log.Info("invitation timed out")
		}
	})
	h.OnStateChange(func(st State) {
		h.log.Debug("host state changed", zap.Stringer("state", st))
	})
	return h
}

func (h *Host) Invitation() Invitation {
	return h.inv
}

// Admitted returns guest feeds admitted by this invitation
func (h *Host) Admitted() []string {
	h.admitMu.Lock()
	defer h.admitMu.Unlock()
	return append([]string(nil), h.admitted...)
}

func (h *Host) Cancel() {
	h.finish(StateCancelled, ErrCancelled)
}

func (h *Host) finish(st State, err error) bool {
	if !h.status.finish(st, err) {
		return false
	}
	h.timer.Stop()
	return true
}

// HandleStream serves the host rpc for one guest connection
func (h *Host) HandleStream(ctx context.Context, stream net.Conn) error {
	if h.isDone() {
		return invitationproto.ErrInvitationClosed
	}
	mux := drpcmux.New()
	sess := &hostSession{
		host:    h,
		limiter: rate.NewLimiter(rate.Every(h.conf.AuthInterval), 1),
	}
	if err := invitationproto.DRPCRegisterInvitationHost(mux, sess); err != nil {
		return err
	}
	var handler drpc.Handler = mux
	if h.metric != nil {
		handler = h.metric.WrapDRPCHandler(handler)
	}
	h.set(StateConnected)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-h.Done():
			// states reached by an rpc let the guest read the response and disconnect
			if st := h.State(); st == StateTimeout || st == StateCancelled {
				cancel()
			}
		case <-ctx.Done():
		}
	}()
	err := drpcserver.New(handler).ServeOne(ctx, stream)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

type hostSession struct {
	host    *Host
	limiter *rate.Limiter

	mu            sync.Mutex
	introduced    bool
	authenticated bool
	attempts      int
}

func (s *hostSession) Introduce(ctx context.Context, req *invitationproto.IntroduceRequest) (*invitationproto.IntroduceResponse, error) {
	h := s.host
	h.requestLog(ctx, "Introduce")
	if req.InvitationId != h.inv.ID {
		return nil, invitationproto.ErrUnknownInvitation
	}
	if h.isDone() {
		return nil, invitationproto.ErrInvitationClosed
	}
	s.mu.Lock()
	s.introduced = true
	s.mu.Unlock()
	resp := &invitationproto.IntroduceResponse{AuthMethod: h.inv.AuthMethod}
	if h.inv.AuthMethod == AuthNone {
		resp.PartyKey = h.admitter.PartyKey()
	}
	return resp, nil
}

func (s *hostSession) Authenticate(ctx context.Context, req *invitationproto.AuthenticateRequest) (*invitationproto.AuthenticateResponse, error) {
	h := s.host
	h.requestLog(ctx, "Authenticate")
	if !s.isIntroduced() {
		return nil, invitationproto.ErrUnknownInvitation
	}
	if h.inv.AuthMethod == AuthNone {
		return &invitationproto.AuthenticateResponse{Status: invitationproto.AuthStatus_Ok}, nil
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	h.set(StateAuthenticating)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempts >= h.conf.MaxAuthAttempts {
		return &invitationproto.AuthenticateResponse{Status: invitationproto.AuthStatus_TooManyAttempts}, nil
	}
	s.attempts++
	if subtle.ConstantTimeCompare(req.Secret, h.inv.Secret) == 1 {
		s.authenticated = true
		return &invitationproto.AuthenticateResponse{Status: invitationproto.AuthStatus_Ok}, nil
	}
	h.log.InfoCtx(ctx, "invalid secret", zap.Int("attempt", s.attempts))
	if s.attempts < h.conf.MaxAuthAttempts {
		return &invitationproto.AuthenticateResponse{Status: invitationproto.AuthStatus_InvalidSecret}, nil
	}
	if !h.inv.MultiUse {
		h.finish(StateError, ErrTooManyAttempts)
	}
	return &invitationproto.AuthenticateResponse{Status: invitationproto.AuthStatus_TooManyAttempts}, nil
}

func (s *hostSession) Admit(ctx context.Context, req *invitationproto.AdmitRequest) (*invitationproto.AdmitResponse, error) {
	h := s.host
	h.requestLog(ctx, "Admit", metric.FeedKey(req.FeedKey))
	if !s.isIntroduced() {
		return nil, invitationproto.ErrUnknownInvitation
	}
	s.mu.Lock()
	authenticated := s.authenticated
	s.mu.Unlock()
	if h.inv.AuthMethod != AuthNone && !authenticated {
		return nil, invitationproto.ErrNotAuthenticated
	}

	h.admitMu.Lock()
	defer h.admitMu.Unlock()
	if h.isDone() {
		return nil, invitationproto.ErrInvitationClosed
	}
	feedKeys, err := h.admitter.AdmitFeed(ctx, req.FeedKey)
	if err != nil {
		h.log.WarnCtx(ctx, "admit failed", zap.String("feedKey", req.FeedKey), zap.Error(err))
		if !h.inv.MultiUse {
			h.finish(StateError, err)
		}
		return nil, invitationproto.ErrAdmitFailed
	}
	h.admitted = append(h.admitted, req.FeedKey)
	h.log.InfoCtx(ctx, "guest admitted", zap.String("feedKey", req.FeedKey))
	if h.inv.MultiUse {
		h.set(StateSuccess)
	} else {
		h.finish(StateSuccess, nil)
	}
	return &invitationproto.AdmitResponse{
		PartyKey:       h.admitter.PartyKey(),
		GenesisFeedKey: h.admitter.GenesisFeedKey(),
		FeedKeys:       feedKeys,
	}, nil
}

func (s *hostSession) isIntroduced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.introduced
}

func (h *Host) requestLog(ctx context.Context, method string, fields ...zap.Field) {
	if h.metric == nil {
		return
	}
	fields = append(fields, metric.Method(method), metric.InvitationId(h.inv.ID), metric.PeerAddr(peer.CtxPeerAddr(ctx)))
	h.metric.RequestLog(ctx, fields...)
}
