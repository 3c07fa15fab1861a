package main

import (
	"context"
	"fmt"

	"cloud.google.com/go/datastore"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/panyam/reelauth"
	"github.com/panyam/reelauth/stores/fs"
	gaestore "github.com/panyam/reelauth/stores/gae"
	gormstore "github.com/panyam/reelauth/stores/gorm"
	mongostore "github.com/panyam/reelauth/stores/mongo"
)

// openStore returns the configured account store and a func that releases
// whatever connection backs it
func openStore(ctx context.Context, cfg *reelauth.Config) (reelauth.AccountStore, func(), error) {
	noop := func() {}
	switch cfg.StoreBackend {
	case "fs":
		return fs.NewFSAccountStore(cfg.StorePath), noop, nil

	case "gorm":
		db, err := gorm.Open(sqlite.Open(cfg.StoreDSN), &gorm.Config{TranslateError: true})
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := gormstore.AutoMigrate(db); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		closer := func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}
		return gormstore.NewAccountStore(db), closer, nil

	case "gae":
		client, err := datastore.NewClient(ctx, cfg.DatastoreProject)
		if err != nil {
			return nil, nil, fmt.Errorf("datastore client: %w", err)
		}
		return gaestore.NewAccountStore(client, cfg.StoreNamespace), func() { client.Close() }, nil

	case "mongo":
		client, err := mongo.Connect(options.Client().ApplyURI(cfg.StoreDSN))
		if err != nil {
			return nil, nil, fmt.Errorf("mongo connect: %w", err)
		}
		store := mongostore.NewAccountStore(client.Database(cfg.MongoDatabase))
		if err := store.EnsureIndexes(ctx); err != nil {
			client.Disconnect(context.Background())
			return nil, nil, fmt.Errorf("mongo indexes: %w", err)
		}
		return store, func() { client.Disconnect(context.Background()) }, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}
