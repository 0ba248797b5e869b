// Package persistence implements the content directory storage engine on a
// relational store. It is the sole mutator of the object, metadata, resource
// and autoscan tables.
package persistence

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pocketbase/dbx"

	"github.com/cadenza-av/cadenza/conf"
	"github.com/cadenza-av/cadenza/log"
	"github.com/cadenza-av/cadenza/model"
)

// SQLStore implements model.DataStore over a dbx connection. The dynamic
// container cache and rollback accounting are shared between the store and
// every transactional child.
type SQLStore struct {
	db dbx.Builder

	shared *storeShared
}

// storeShared carries the state that must survive WithTx cloning.
type storeShared struct {
	dynMu        sync.Mutex
	dynContainers map[int32]*model.Object
	rollbackCount atomic.Int32
	onFatal       func()
}

// New creates a SQLStore on the given connection. onFatal is invoked when
// rollbacks fail more often than the configured shutdown threshold; the
// server installs a process exit there.
func New(db dbx.Builder, onFatal func()) *SQLStore {
	return &SQLStore{
		db: db,
		shared: &storeShared{
			dynContainers: map[int32]*model.Object{},
			onFatal:       onFatal,
		},
	}
}

func (s *SQLStore) Object(ctx context.Context) model.ObjectRepository {
	return newObjectRepository(ctx, s.db, s.shared)
}

func (s *SQLStore) Autoscan(ctx context.Context) model.AutoscanRepository {
	return newAutoscanRepository(ctx, s.db, s)
}

func (s *SQLStore) Setting(ctx context.Context) model.SettingRepository {
	return newSettingRepository(ctx, s.db)
}

func (s *SQLStore) ConfigValue(ctx context.Context) model.ConfigValueRepository {
	return newConfigValueRepository(ctx, s.db)
}

func (s *SQLStore) Client(ctx context.Context) model.ClientRepository {
	return newClientRepository(ctx, s.db)
}

func (s *SQLStore) PlayStatus(ctx context.Context) model.PlayStatusRepository {
	return newPlayStatusRepository(ctx, s.db)
}

// WithTx runs fn inside one database transaction. When transactions are
// disabled by configuration fn runs directly on the connection. A failing
// rollback is counted; passing the shutdown threshold invokes the fatal
// handler so the process stops before persisting corrupt state.
func (s *SQLStore) WithTx(ctx context.Context, name string, fn func(tx model.DataStore) error) error {
	db, ok := s.db.(*dbx.DB)
	if !ok || !conf.Server.Database.EnableTxn {
		return fn(s)
	}
	err := db.Transactional(func(tx *dbx.Tx) error {
		return fn(&SQLStore{db: tx, shared: s.shared})
	})
	if err != nil {
		log.Error(ctx, "Transaction rolled back", err, "name", name)
		s.countRollback(ctx)
	}
	return err
}

func (s *SQLStore) countRollback(ctx context.Context) {
	count := s.shared.rollbackCount.Add(1)
	limit := int32(conf.Server.Database.ShutdownAttempts)
	if limit > 0 && count > limit {
		log.Error(ctx, "Too many storage rollbacks, shutting down to protect persisted state",
			"count", count, "limit", limit)
		if s.shared.onFatal != nil {
			s.shared.onFatal()
		}
	}
}

func (s *SQLStore) Close() error {
	if db, ok := s.db.(*dbx.DB); ok {
		return db.Close()
	}
	return nil
}

var _ model.DataStore = (*SQLStore)(nil)
