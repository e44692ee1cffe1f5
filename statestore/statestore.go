// Package statestore opens the configured state backend as a persist.Gateway.
package statestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/onnwee/ghostbot/config"
	"github.com/onnwee/ghostbot/crypto"
	"github.com/onnwee/ghostbot/db"
	"github.com/onnwee/ghostbot/mongostore"
	"github.com/onnwee/ghostbot/persist"
	"github.com/onnwee/ghostbot/redisstore"
)

// Options selects and addresses one backend.
type Options struct {
	Backend       string
	File          string
	DSN           string
	MongoURI      string
	MongoDatabase string
	RedisURL      string
	RedisKey      string
	// EncryptionKey is base64; empty stores plaintext.
	EncryptionKey string
}

// FromConfig copies the state settings out of cfg.
func FromConfig(cfg *config.Config) Options {
	return Options{
		Backend:       cfg.StateBackend,
		File:          cfg.StateFile,
		DSN:           cfg.DBDsn,
		MongoURI:      cfg.MongoURI,
		MongoDatabase: cfg.MongoDatabase,
		RedisURL:      cfg.RedisURL,
		RedisKey:      cfg.RedisStateKey,
		EncryptionKey: cfg.EncryptionKey,
	}
}

// Handle is an open backend.
type Handle struct {
	persist.Gateway
	Backend string
	// Ping checks reachability; nil for the file backend.
	Ping func(ctx context.Context) error
	// Redis is set for the redis backend so other components can share the client.
	Redis *goredis.Client
	close func(ctx context.Context) error
}

// Close releases the backend connection.
func (h *Handle) Close(ctx context.Context) error {
	if h.close == nil {
		return nil
	}
	return h.close(ctx)
}

// Open connects to the backend named in opts. Postgres migrations run before
// the gateway is returned.
func Open(ctx context.Context, opts Options) (*Handle, error) {
	sealer, err := crypto.FromKey(opts.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("invalid ENCRYPTION_KEY: %w", err)
	}
	log := slog.Default().With(slog.String("component", "statestore"), slog.String("backend", opts.Backend))

	switch opts.Backend {
	case config.BackendFile, "":
		if sealer.Version() != crypto.VersionPlain {
			log.Warn("ENCRYPTION_KEY is ignored by the file backend")
		}
		return &Handle{Gateway: persist.NewFileGateway(opts.File), Backend: config.BackendFile}, nil

	case config.BackendPostgres:
		database, err := db.Connect(opts.DSN)
		if err != nil {
			return nil, err
		}
		if err := database.PingContext(ctx); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("postgres ping failed: %w", err)
		}
		log.Info("running database migrations")
		if err := db.RunMigrations(database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("migrations failed: %w", err)
		}
		gw := db.NewGateway(database, db.DefaultKey, sealer)
		return &Handle{
			Gateway: gw,
			Backend: opts.Backend,
			Ping:    gw.Ping,
			close:   func(context.Context) error { return database.Close() },
		}, nil

	case config.BackendMongo:
		gw, err := mongostore.Connect(ctx, opts.MongoURI, opts.MongoDatabase, sealer)
		if err != nil {
			return nil, err
		}
		return &Handle{Gateway: gw, Backend: opts.Backend, Ping: gw.Ping, close: gw.Close}, nil

	case config.BackendRedis:
		gw, err := redisstore.Connect(ctx, opts.RedisURL, opts.RedisKey, sealer)
		if err != nil {
			return nil, err
		}
		return &Handle{
			Gateway: gw,
			Backend: opts.Backend,
			Ping:    gw.Ping,
			Redis:   gw.Client(),
			close:   func(context.Context) error { return gw.Close() },
		}, nil
	}
	return nil, errors.New("unknown state backend " + opts.Backend)
}
