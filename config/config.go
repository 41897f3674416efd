package config

import (
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/dxos/dxos-sub075/app"
	"github.com/dxos/dxos-sub075/app/logger"
	"github.com/dxos/dxos-sub075/echo/invitation"
	"github.com/dxos/dxos-sub075/echo/pipeline"
	"github.com/dxos/dxos-sub075/echo/replicator"
	"github.com/dxos/dxos-sub075/metric"
	"github.com/dxos/dxos-sub075/net/swarm"
	"github.com/dxos/dxos-sub075/storage"
)

const CName = "config"

func NewFromFile(path string) (c *Config, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewFromBytes(data)
}

func NewFromBytes(data []byte) (c *Config, err error) {
	c = &Config{}
	if err = yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return
}

type Config struct {
	Log        logger.Config     `yaml:"log"`
	Storage    storage.Config    `yaml:"storage"`
	Pipeline   pipeline.Config   `yaml:"pipeline"`
	Replicator replicator.Config `yaml:"replicator"`
	Invitation invitation.Config `yaml:"invitation"`
	Swarm      swarm.Config      `yaml:"swarm"`
	Metric     metric.Config     `yaml:"metric"`
}

func (c *Config) Init(a *app.App) (err error) {
	logger.NewNamed(CName).Debug("config loaded",
		zap.String("storage", c.Storage.Path),
		zap.String("listen", c.Swarm.ListenAddr),
		zap.Strings("peers", c.Swarm.Peers),
	)
	return
}

func (c *Config) Name() (name string) {
	return CName
}

func (c *Config) GetLog() logger.Config {
	return c.Log
}

func (c *Config) GetStorage() storage.Config {
	return c.Storage
}

func (c *Config) GetPipeline() pipeline.Config {
	return c.Pipeline.WithDefaults()
}

func (c *Config) GetReplicator() replicator.Config {
	return c.Replicator.WithDefaults()
}

func (c *Config) GetInvitation() invitation.Config {
	return c.Invitation.WithDefaults()
}

func (c *Config) GetSwarm() swarm.Config {
	return c.Swarm.WithDefaults()
}

func (c *Config) GetMetric() metric.Config {
	return c.Metric
}
