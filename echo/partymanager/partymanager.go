// Package partymanager owns the open parties of a node and connects them to the swarm
package partymanager

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dxos/dxos-sub075/app"
	"github.com/dxos/dxos-sub075/app/logger"
	"github.com/dxos/dxos-sub075/app/ocache"
	"github.com/dxos/dxos-sub075/echo/feedstore"
	"github.com/dxos/dxos-sub075/echo/invitation"
	"github.com/dxos/dxos-sub075/echo/metadatastore"
	"github.com/dxos/dxos-sub075/echo/model"
	"github.com/dxos/dxos-sub075/echo/party"
	"github.com/dxos/dxos-sub075/echo/pipeline"
	"github.com/dxos/dxos-sub075/echo/replicator"
	"github.com/dxos/dxos-sub075/echo/snapshotstore"
	"github.com/dxos/dxos-sub075/metric"
	"github.com/dxos/dxos-sub075/net/peer"
	"github.com/dxos/dxos-sub075/net/swarm"
	"github.com/dxos/dxos-sub075/storage"
	"github.com/dxos/dxos-sub075/util/crypto"
)

const CName = "echo.partymanager"

var log = logger.NewNamed(CName)

var ErrPartyNotFound = errors.New("party not found")

type configGetter interface {
	GetPipeline() pipeline.Config
	GetReplicator() replicator.Config
	GetInvitation() invitation.Config
}

type PartyManager interface {
	// CreateParty creates a party with a new party key and a writable own feed
	CreateParty(ctx context.Context) (*party.Party, error)
	// OpenParty opens a known party or returns the already opened one
	OpenParty(ctx context.Context, partyKey string) (*party.Party, error)
	// Party returns an opened party
	Party(ctx context.Context, partyKey string) (*party.Party, error)
	Parties() []*party.Party
	CloseParty(ctx context.Context, partyKey string) error
	// CreateInvitation advertises a new invitation to the party, the host is released when it's done
	CreateInvitation(ctx context.Context, partyKey string, opts invitation.Options) (*invitation.Host, error)
	// AcceptInvitation starts the guest side in background, the party is opened on success
	AcceptInvitation(ctx context.Context, desc invitation.Descriptor) (*PendingInvitation, error)
	app.ComponentRunnable
}

func New() PartyManager {
	return &partyManager{}
}

type partyManager struct {
	pipelineConf   pipeline.Config
	replicatorConf replicator.Config
	invitationConf invitation.Config

	storage  storage.Storage
	swarm    swarm.Swarm
	metric   metric.Metric
	registry *model.Registry

	feeds     feedstore.FeedStore
	metadata  metadatastore.MetadataStore
	snapshots snapshotstore.SnapshotStore
	parties   ocache.OCache

	mu sync.Mutex
	// topics maps discovery keys of opened parties to party keys
	topics map[string]string
	hosts  map[string]*invitation.Host

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (pm *partyManager) Init(a *app.App) (err error) {
	conf := a.MustComponent("config").(configGetter)
	pm.pipelineConf = conf.GetPipeline()
	pm.replicatorConf = conf.GetReplicator()
	pm.invitationConf = conf.GetInvitation()
	pm.storage = a.MustComponent(storage.CName).(storage.Storage)
	pm.swarm = a.MustComponent(swarm.CName).(swarm.Swarm)
	pm.registry = model.DefaultRegistry()
	pm.topics = make(map[string]string)
	pm.hosts = make(map[string]*invitation.Host)
	pm.ctx, pm.cancel = context.WithCancel(context.Background())

	var reg *prometheus.Registry
	if m, ok := a.Component(metric.CName).(metric.Metric); ok {
		pm.metric = m
		reg = m.Registry()
		m.RegisterStat(pm)
	}
	pm.parties = ocache.New(pm.loadParty,
		ocache.WithLogger(log),
		ocache.WithMetrics(reg, "echo_parties"),
	)
	pm.swarm.OnPeerConnected(pm.handleConn)
	return nil
}

func (pm *partyManager) Name() (name string) {
	return CName
}

func (pm *partyManager) Run(ctx context.Context) (err error) {
	db := pm.storage.DB()
	if pm.feeds, err = feedstore.New(ctx, db); err != nil {
		return
	}
	if pm.metadata, err = metadatastore.New(ctx, db); err != nil {
		return
	}
	if pm.snapshots, err = snapshotstore.New(ctx, db); err != nil {
		return
	}
	mds, err := pm.metadata.ListParties(ctx)
	if err != nil {
		return
	}
	for _, md := range mds {
		if _, err = pm.OpenParty(ctx, md.PartyKey); err != nil {
			return fmt.Errorf("open party %s: %w", md.PartyKey, err)
		}
	}
	log.Info("parties opened", zap.Int("count", len(mds)))
	return nil
}

func (pm *partyManager) loadParty(ctx context.Context, partyKey string) (ocache.Object, error) {
	md, err := pm.metadata.GetParty(ctx, partyKey)
	if err != nil {
		if errors.Is(err, metadatastore.ErrPartyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPartyNotFound, partyKey)
		}
		return nil, err
	}
	var echoMetrics *metric.EchoMetrics
	if pm.metric != nil {
		echoMetrics = pm.metric.Echo()
	}
	p, err := party.Open(ctx, party.Deps{
		Metadata:      md,
		FeedStore:     pm.feeds,
		MetadataStore: pm.metadata,
		SnapshotStore: pm.snapshots,
		Registry:      pm.registry,
		Pipeline:      pm.pipelineConf,
		Replicator:    pm.replicatorConf,
		Metrics:       echoMetrics,
	})
	if err != nil {
		return nil, err
	}
	topic := swarm.DiscoveryKey(partyKey)
	pm.mu.Lock()
	pm.topics[topic] = partyKey
	pm.mu.Unlock()
	if err = pm.swarm.Advertise(topic); err != nil {
		pm.mu.Lock()
		delete(pm.topics, topic)
		pm.mu.Unlock()
		_ = p.Close(ctx)
		return nil, fmt.Errorf("advertise party: %w", err)
	}
	return p, nil
}

func (pm *partyManager) CreateParty(ctx context.Context) (*party.Party, error) {
	partyPriv, partyKey, partySecret, err := generateKey()
	if err != nil {
		return nil, err
	}
	_, ownKey, ownSecret, err := generateKey()
	if err != nil {
		return nil, err
	}
	if _, err = pm.feeds.CreateFeed(ctx, ownKey, partyKey); err != nil {
		return nil, fmt.Errorf("create own feed: %w", err)
	}
	md := metadatastore.PartyMetadata{
		PartyKey:       partyKey,
		GenesisFeedKey: ownKey,
		OwnFeedKey:     ownKey,
		OwnFeedSecret:  ownSecret,
		PartySecret:    partySecret,
		AdmittedFeeds:  []string{ownKey},
	}
	if err = pm.metadata.AddParty(ctx, md); err != nil {
		return nil, err
	}
	p, err := pm.OpenParty(ctx, partyKey)
	if err != nil {
		return nil, err
	}
	if err = p.WriteGenesis(ctx, partyPriv); err != nil {
		return nil, fmt.Errorf("write genesis: %w", err)
	}
	log.InfoCtx(ctx, "party created", metric.PartyKey(partyKey), metric.FeedKey(ownKey))
	return p, nil
}

func (pm *partyManager) OpenParty(ctx context.Context, partyKey string) (*party.Party, error) {
	obj, err := pm.parties.Get(ctx, partyKey)
	if err != nil {
		return nil, err
	}
	return obj.(*party.Party), nil
}

func (pm *partyManager) Party(ctx context.Context, partyKey string) (*party.Party, error) {
	obj, err := pm.parties.Pick(ctx, partyKey)
	if err != nil {
		if errors.Is(err, ocache.ErrNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrPartyNotFound, partyKey)
		}
		return nil, err
	}
	return obj.(*party.Party), nil
}

func (pm *partyManager) Parties() (parties []*party.Party) {
	pm.parties.ForEach(func(_ string, v ocache.Object) bool {
		parties = append(parties, v.(*party.Party))
		return true
	})
	return
}

func (pm *partyManager) CloseParty(ctx context.Context, partyKey string) error {
	topic := swarm.DiscoveryKey(partyKey)
	pm.mu.Lock()
	delete(pm.topics, topic)
	pm.mu.Unlock()
	if err := pm.swarm.Unadvertise(topic); err != nil && !errors.Is(err, swarm.ErrNotAdvertised) {
		log.WarnCtx(ctx, "can't unadvertise party", metric.PartyKey(partyKey), zap.Error(err))
	}
	if _, err := pm.parties.Remove(ctx, partyKey); err != nil {
		if errors.Is(err, ocache.ErrNotExists) {
			return fmt.Errorf("%w: %s", ErrPartyNotFound, partyKey)
		}
		return err
	}
	return nil
}

func (pm *partyManager) EchoStat() (st metric.StatState) {
	pm.parties.ForEach(func(_ string, v ocache.Object) bool {
		st.Append(v.(*party.Party).EchoStat())
		return true
	})
	return
}

// handleConn dispatches a swarm connection by its topic to an invitation host or a party
func (pm *partyManager) handleConn(ctx context.Context, topic string, conn net.Conn, initiator bool) {
	ctx = logger.CtxWithFields(peer.CtxWithTopic(ctx, topic), zap.String("topic", topic))
	pm.mu.Lock()
	host := pm.hosts[topic]
	partyKey, isParty := pm.topics[topic]
	pm.mu.Unlock()
	switch {
	case host != nil:
		if _, err := peer.NewPeer(ctx, conn, initiator, map[string]peer.StreamHandler{
			invitation.ProtoName: host.HandleStream,
		}); err != nil {
			log.WarnCtx(ctx, "can't serve invitation connection", metric.InvitationId(host.Invitation().ID), zap.Error(err))
		}
	case isParty:
		pm.replicate(ctx, partyKey, conn, initiator)
	default:
		log.DebugCtx(ctx, "connection for unknown topic")
		_ = conn.Close()
	}
}

// replicate serves the party over the connection, the initiator opens the replication stream
func (pm *partyManager) replicate(ctx context.Context, partyKey string, conn net.Conn, initiator bool) {
	p, err := pm.Party(ctx, partyKey)
	if err != nil {
		log.DebugCtx(ctx, "connection for closed party", metric.PartyKey(partyKey), zap.Error(err))
		_ = conn.Close()
		return
	}
	pr, err := peer.NewPeer(ctx, conn, initiator, map[string]peer.StreamHandler{
		replicator.ProtoName: p.HandleReplication,
	})
	if err != nil {
		log.WarnCtx(ctx, "can't create peer", metric.PartyKey(partyKey), zap.Error(err))
		return
	}
	if !initiator {
		return
	}
	defer func() {
		_ = pr.Close()
	}()
	stream, err := pr.OpenStream(ctx, replicator.ProtoName)
	if err != nil {
		log.WarnCtx(ctx, "can't open replication stream", metric.PartyKey(partyKey), metric.PeerAddr(pr.Addr()), zap.Error(err))
		return
	}
	defer func() {
		_ = stream.Close()
	}()
	if err = p.HandleReplication(pr.Context(), stream); err != nil {
		log.DebugCtx(ctx, "replication stopped", metric.PartyKey(partyKey), metric.PeerAddr(pr.Addr()), zap.Error(err))
	}
}

func (pm *partyManager) Close(ctx context.Context) (err error) {
	pm.cancel()
	pm.mu.Lock()
	hosts := make([]*invitation.Host, 0, len(pm.hosts))
	for _, h := range pm.hosts {
		hosts = append(hosts, h)
	}
	pm.mu.Unlock()
	for _, h := range hosts {
		h.Cancel()
	}
	pm.wg.Wait()
	return pm.parties.Close(ctx)
}

func generateKey() (priv crypto.PrivKey, key string, secret []byte, err error) {
	priv, pub, err := crypto.GenerateRandomEd25519KeyPair()
	if err != nil {
		return
	}
	if secret, err = priv.Raw(); err != nil {
		return
	}
	return priv, pub.String(), secret, nil
}
