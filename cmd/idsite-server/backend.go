package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/idsite/pkg/config"
	"github.com/platinummonkey/idsite/pkg/idsite"
	"github.com/platinummonkey/idsite/pkg/keys"
	"github.com/platinummonkey/idsite/pkg/nonce"
	"github.com/platinummonkey/idsite/pkg/observability"
)

func newKeyResolver(ctx context.Context, cfg config.IDSiteConfig, logger *observability.Logger, metrics *observability.Metrics) (idsite.KeyResolver, error) {
	if cfg.KeyFile != "" {
		resolver, err := keys.NewFileResolver(cfg.KeyFile, logger, metrics)
		if err != nil {
			return nil, err
		}
		if err := resolver.Watch(ctx); err != nil {
			return nil, err
		}
		logger.WithField("key_file", cfg.KeyFile).Info("Loaded API key from file")
		return resolver, nil
	}

	key := idsite.KeyPair{ID: cfg.KeyID, Secret: cfg.KeySecret}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return idsite.StaticKey(key), nil
}

// nonceBackend owns the nonce store and the connections behind it.
type nonceBackend struct {
	store  idsite.NonceStore
	db     *sql.DB
	redis  *redis.Client
	purger *nonce.Purger
}

func openNonceBackend(ctx context.Context, cfg config.NonceConfig, logger *observability.Logger, metrics *observability.Metrics) (*nonceBackend, error) {
	logger = logger.WithField("nonce_store", cfg.Type)
	b := &nonceBackend{}

	switch cfg.Type {
	case config.NonceMemory:
		store, err := nonce.NewMemoryStore(cfg.MemorySize, cfg.TTL, metrics)
		if err != nil {
			return nil, err
		}
		logger.Warn("In-memory nonce store only detects replays within this instance")
		b.store = store

	case config.NonceRedis:
		client, err := nonce.NewRedisClient(ctx, cfg.Redis())
		if err != nil {
			return nil, err
		}
		store, err := nonce.NewRedisStore(client, cfg.RedisPrefix, cfg.TTL, metrics)
		if err != nil {
			client.Close()
			return nil, err
		}
		b.redis = client
		b.store = store

	case config.NoncePostgres, config.NonceSQLite:
		dialect := nonce.DialectPostgres
		if cfg.Type == config.NonceSQLite {
			dialect = nonce.DialectSQLite
		}
		db, err := nonce.OpenDB(ctx, dialect, cfg.DSN)
		if err != nil {
			return nil, err
		}
		b.db = db

		store, err := nonce.NewSQLStore(db, dialect, cfg.TTL, metrics)
		if err != nil {
			db.Close()
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		purger, err := nonce.StartPurger(store, cfg.PurgeSchedule, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		b.purger = purger
		b.store = store

	default:
		return nil, fmt.Errorf("unsupported nonce store type: %s", cfg.Type)
	}

	logger.WithField("ttl", cfg.TTL.String()).Info("Nonce store ready")
	return b, nil
}

// Close stops the purger before closing the connections it uses.
func (b *nonceBackend) Close(ctx context.Context) error {
	var firstErr error
	if b.purger != nil {
		if err := b.purger.Stop(ctx); err != nil {
			firstErr = err
		}
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if b.redis != nil {
		if err := b.redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
