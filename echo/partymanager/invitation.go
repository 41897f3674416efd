package partymanager

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"
	"storj.io/drpc/drpcconn"

	"github.com/dxos/dxos-sub075/echo/invitation"
	"github.com/dxos/dxos-sub075/echo/metadatastore"
	"github.com/dxos/dxos-sub075/echo/party"
	"github.com/dxos/dxos-sub075/metric"
	"github.com/dxos/dxos-sub075/net/peer"
	"github.com/dxos/dxos-sub075/net/swarm"
)

// PendingInvitation is the guest side of an accepted invitation
type PendingInvitation struct {
	*invitation.Guest
	done  chan struct{}
	party *party.Party
	err   error
}

// WaitParty blocks until the guest is admitted and the party is opened
func (pi *PendingInvitation) WaitParty(ctx context.Context) (*party.Party, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-pi.done:
		return pi.party, pi.err
	}
}

func (pm *partyManager) CreateInvitation(ctx context.Context, partyKey string, opts invitation.Options) (*invitation.Host, error) {
	p, err := pm.Party(ctx, partyKey)
	if err != nil {
		return nil, err
	}
	inv, err := invitation.NewInvitation(opts)
	if err != nil {
		return nil, err
	}
	host := invitation.NewHost(pm.invitationConf, inv, p, pm.metric)
	pm.mu.Lock()
	pm.hosts[inv.SwarmKey] = host
	pm.mu.Unlock()
	if err = pm.swarm.Advertise(inv.SwarmKey); err != nil {
		pm.releaseHost(host)
		host.Cancel()
		return nil, fmt.Errorf("advertise invitation: %w", err)
	}
	go func() {
		<-host.Done()
		pm.releaseHost(host)
		log.Info("invitation finished", metric.InvitationId(inv.ID), metric.PartyKey(partyKey),
			zap.Stringer("state", host.State()), zap.Strings("admitted", host.Admitted()))
	}()
	log.InfoCtx(ctx, "invitation created", metric.InvitationId(inv.ID), metric.PartyKey(partyKey))
	return host, nil
}

func (pm *partyManager) releaseHost(host *invitation.Host) {
	swarmKey := host.Invitation().SwarmKey
	pm.mu.Lock()
	if pm.hosts[swarmKey] == host {
		delete(pm.hosts, swarmKey)
	}
	pm.mu.Unlock()
	if err := pm.swarm.Unadvertise(swarmKey); err != nil && !errors.Is(err, swarm.ErrNotAdvertised) {
		log.Debug("can't unadvertise invitation", zap.Error(err))
	}
}

func (pm *partyManager) AcceptInvitation(ctx context.Context, desc invitation.Descriptor) (*PendingInvitation, error) {
	if err := pm.ctx.Err(); err != nil {
		return nil, err
	}
	_, feedKey, feedSecret, err := generateKey()
	if err != nil {
		return nil, err
	}
	pi := &PendingInvitation{
		Guest: invitation.NewGuest(pm.invitationConf, desc, feedKey),
		done:  make(chan struct{}),
	}
	pm.wg.Add(1)
	go func() {
		defer pm.wg.Done()
		defer close(pi.done)
		res, err := pm.runGuest(pm.ctx, pi.Guest)
		if err != nil {
			pi.err = err
			return
		}
		pi.party, pi.err = pm.joinParty(pm.ctx, res, feedKey, feedSecret)
	}()
	log.InfoCtx(ctx, "invitation accepted", metric.InvitationId(desc.ID), metric.FeedKey(feedKey))
	return pi, nil
}

func (pm *partyManager) runGuest(ctx context.Context, guest *invitation.Guest) (invitation.Result, error) {
	conn, err := pm.swarm.Connect(ctx, guest.Descriptor().SwarmKey)
	if err != nil {
		guest.Fail(err)
		return guest.Wait(ctx)
	}
	pr, err := peer.NewPeer(ctx, conn, true, nil)
	if err != nil {
		guest.Fail(err)
		return guest.Wait(ctx)
	}
	defer func() {
		_ = pr.Close()
	}()
	stream, err := pr.OpenStream(ctx, invitation.ProtoName)
	if err != nil {
		guest.Fail(err)
		return guest.Wait(ctx)
	}
	dconn := drpcconn.New(stream)
	defer func() {
		_ = dconn.Close()
	}()
	return guest.Run(ctx, dconn)
}

// joinParty stores the admitted party with the guest feed as the own feed and opens it
func (pm *partyManager) joinParty(ctx context.Context, res invitation.Result, feedKey string, feedSecret []byte) (*party.Party, error) {
	if _, err := pm.feeds.CreateFeed(ctx, feedKey, res.PartyKey); err != nil {
		return nil, fmt.Errorf("create own feed: %w", err)
	}
	admitted := slices.Clone(res.FeedKeys)
	if !slices.Contains(admitted, feedKey) {
		admitted = append(admitted, feedKey)
	}
	md := metadatastore.PartyMetadata{
		PartyKey:       res.PartyKey,
		GenesisFeedKey: res.GenesisFeedKey,
		OwnFeedKey:     feedKey,
		OwnFeedSecret:  feedSecret,
		AdmittedFeeds:  admitted,
	}
	if err := pm.metadata.AddParty(ctx, md); err != nil {
		return nil, err
	}
	p, err := pm.OpenParty(ctx, res.PartyKey)
	if err != nil {
		return nil, err
	}
	log.Info("joined party", metric.PartyKey(res.PartyKey), metric.FeedKey(feedKey), zap.Int("feeds", len(admitted)))
	return p, nil
}
