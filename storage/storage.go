// Package storage opens the node's any-store database shared by feed, metadata and snapshot stores.
package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	anystore "github.com/anyproto/any-store"
	"go.uber.org/zap"

	"github.com/dxos/dxos-sub075/app"
	"github.com/dxos/dxos-sub075/app/logger"
)

const CName = "echo.storage"

const dbFileName = "echo.db"

var log = logger.NewNamed(CName)

var ErrNotOpened = errors.New("storage is not opened")

type Config struct {
	Path string `yaml:"path"`
}

type configGetter interface {
	GetStorage() Config
}

type Storage interface {
	// DB returns the opened database, it's valid between Run and Close
	DB() anystore.DB
	app.ComponentRunnable
}

func New() Storage {
	return &storage{}
}

type storage struct {
	path string
	db   anystore.DB
}

func (s *storage) Init(a *app.App) (err error) {
	s.path = a.MustComponent("config").(configGetter).GetStorage().Path
	if s.path == "" {
		return errors.New("storage path is empty")
	}
	return nil
}

func (s *storage) Name() (name string) {
	return CName
}

func (s *storage) Run(ctx context.Context) (err error) {
	s.db, err = Open(ctx, s.path)
	if err != nil {
		return
	}
	log.Info("storage opened", zap.String("path", s.path))
	return
}

func (s *storage) DB() anystore.DB {
	return s.db
}

func (s *storage) Close(ctx context.Context) (err error) {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Open opens or creates the database inside the given directory
func Open(ctx context.Context, rootPath string) (anystore.DB, error) {
	if err := os.MkdirAll(rootPath, 0755); err != nil {
		return nil, err
	}
	return anystore.Open(ctx, filepath.Join(rootPath, dbFileName), nil)
}
