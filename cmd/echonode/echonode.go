package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/dxos/dxos-sub075/app"
	"github.com/dxos/dxos-sub075/app/logger"
	"github.com/dxos/dxos-sub075/config"
	"github.com/dxos/dxos-sub075/echo/invitation"
	"github.com/dxos/dxos-sub075/echo/partymanager"
	"github.com/dxos/dxos-sub075/metric"
	"github.com/dxos/dxos-sub075/net/swarm"
	"github.com/dxos/dxos-sub075/storage"
)

var log = logger.NewNamed("main")

var (
	flagConfigFile = flag.String("c", "etc/echonode.yml", "path to config file")
	flagVersion    = flag.Bool("v", false, "show version and exit")
	flagHelp       = flag.Bool("h", false, "show help and exit")
	flagCreate     = flag.Bool("create", false, "create a party on start")
	flagInvite     = flag.String("invite", "", "write a multi-use invitation to every open party into this file")
	flagJoin       = flag.String("join", "", "accept the invitation from this file")
	flagSecret     = flag.String("secret", "", "secret of the invitation to accept")
)

func main() {
	flag.Parse()

	if *flagVersion {
		fmt.Println(app.VersionDescription())
		return
	}
	if *flagHelp {
		flag.PrintDefaults()
		return
	}

	ctx := context.Background()
	a := new(app.App)

	conf, err := config.NewFromFile(*flagConfigFile)
	if err != nil {
		log.Fatal("can't open config file", zap.Error(err))
	}
	conf.Log.ApplyGlobal()

	a.Register(conf)
	Bootstrap(a)
	if err = a.Start(ctx); err != nil {
		log.Fatal("can't start app", zap.Error(err))
	}
	log.Info("app started", zap.String("version", a.Version()))

	if err = runCommands(ctx, a.MustComponent(partymanager.CName).(partymanager.PartyManager)); err != nil {
		log.Error("command failed", zap.Error(err))
	}

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	sig := <-exit
	log.Info("received exit signal, stop app", zap.String("signal", fmt.Sprint(sig)))

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		log.Fatal("close error", zap.Error(err))
	}
}

func Bootstrap(a *app.App) {
	a.Register(metric.New()).
		Register(storage.New()).
		Register(swarm.New()).
		Register(partymanager.New())
}

// invitationFile is the shareable form of an invitation
type invitationFile struct {
	ID         string        `yaml:"id"`
	SwarmKey   string        `yaml:"swarmKey"`
	AuthMethod int32         `yaml:"authMethod"`
	Timeout    time.Duration `yaml:"timeout"`
}

func runCommands(ctx context.Context, pm partymanager.PartyManager) error {
	if *flagCreate {
		p, err := pm.CreateParty(ctx)
		if err != nil {
			return err
		}
		log.Info("party created", metric.PartyKey(p.Key()))
	}
	if *flagInvite != "" {
		if err := writeInvitations(ctx, pm, *flagInvite); err != nil {
			return err
		}
	}
	if *flagJoin != "" {
		return join(ctx, pm, *flagJoin, *flagSecret)
	}
	return nil
}

func writeInvitations(ctx context.Context, pm partymanager.PartyManager, path string) error {
	var invitations []invitationFile
	for _, p := range pm.Parties() {
		host, err := pm.CreateInvitation(ctx, p.Key(), invitation.Options{
			AuthMethod: invitation.AuthSharedSecret,
			MultiUse:   true,
		})
		if err != nil {
			return err
		}
		inv := host.Invitation()
		invitations = append(invitations, invitationFile{
			ID:         inv.ID,
			SwarmKey:   inv.SwarmKey,
			AuthMethod: int32(inv.AuthMethod),
			Timeout:    inv.Timeout,
		})
		log.Info("invitation created", metric.PartyKey(p.Key()), metric.InvitationId(inv.ID), zap.ByteString("secret", inv.Secret))
	}
	data, err := yaml.Marshal(invitations)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func join(ctx context.Context, pm partymanager.PartyManager, path, secret string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var invitations []invitationFile
	if err = yaml.Unmarshal(data, &invitations); err != nil {
		return err
	}
	for _, f := range invitations {
		pi, err := pm.AcceptInvitation(ctx, invitation.Descriptor{
			ID:         f.ID,
			SwarmKey:   f.SwarmKey,
			AuthMethod: invitation.AuthMethod(f.AuthMethod),
			Timeout:    f.Timeout,
		})
		if err != nil {
			return err
		}
		if secret != "" {
			pi.Authenticate([]byte(secret))
		}
		p, err := pi.WaitParty(ctx)
		if err != nil {
			return fmt.Errorf("join %s: %w", f.ID, err)
		}
		log.Info("joined party", metric.PartyKey(p.Key()))
	}
	return nil
}
