package pipeline

import "time"

type Config struct {
	// PendingMaxBlocks bounds blocks buffered for not yet admitted feeds
	PendingMaxBlocks int           `yaml:"pendingMaxBlocks"`
	PendingMaxAge    time.Duration `yaml:"pendingMaxAge"`
	// ReorderMaxBlocks bounds out of order blocks kept per admitted feed
	ReorderMaxBlocks int `yaml:"reorderMaxBlocks"`
	// SnapshotInterval is the number of applied messages between party snapshots
	SnapshotInterval uint64 `yaml:"snapshotInterval"`
}

func (c Config) WithDefaults() Config {
	if c.PendingMaxBlocks <= 0 {
		c.PendingMaxBlocks = 1024
	}
	if c.PendingMaxAge <= 0 {
		c.PendingMaxAge = 5 * time.Minute
	}
	if c.ReorderMaxBlocks <= 0 {
		c.ReorderMaxBlocks = 4096
	}
	if c.SnapshotInterval == 0 {
		c.SnapshotInterval = 100
	}
	return c
}
