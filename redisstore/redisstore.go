// Package redisstore keeps the state snapshot under a single Redis key.
package redisstore

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/onnwee/ghostbot/crypto"
	"github.com/onnwee/ghostbot/persist"
)

// DefaultKey matches the key older deployments used.
const DefaultKey = "ghost_bot:current_states"

// Gateway implements persist.Gateway. The value is a crypto envelope: a version
// byte followed by the (possibly sealed) JSON snapshot. The previous value is
// kept under Key+":prev".
type Gateway struct {
	client *goredis.Client
	key    string
	sealer crypto.Sealer
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, redisURL, key string, sealer crypto.Sealer) (*Gateway, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping failed: %w", err)
	}
	return New(client, key, sealer), nil
}

// New wraps an existing client.
func New(client *goredis.Client, key string, sealer crypto.Sealer) *Gateway {
	if key == "" {
		key = DefaultKey
	}
	if sealer == nil {
		sealer = crypto.Plain{}
	}
	return &Gateway{client: client, key: key, sealer: sealer}
}

// Key returns the snapshot key.
func (g *Gateway) Key() string { return g.key }

func (g *Gateway) Close() error { return g.client.Close() }

func (g *Gateway) Ping(ctx context.Context) error { return g.client.Ping(ctx).Err() }

// LoadAll reads the snapshot; a missing key is an empty aggregate.
func (g *Gateway) LoadAll(ctx context.Context) (persist.Aggregate, error) {
	blob, err := g.client.Get(ctx, g.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return persist.Aggregate{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	plain, err := crypto.OpenEnvelope(g.sealer, blob, g.key)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	return persist.Decode(plain)
}

// SaveAll writes the snapshot, moving the old value to the :prev key in the same
// MULTI/EXEC transaction.
func (g *Gateway) SaveAll(ctx context.Context, agg persist.Aggregate) error {
	plain, err := persist.Encode(agg)
	if err != nil {
		return err
	}
	blob, err := crypto.Envelope(g.sealer, plain, g.key)
	if err != nil {
		return fmt.Errorf("seal snapshot: %w", err)
	}
	prev := g.key + ":prev"
	_, err = g.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Copy(ctx, g.key, prev, 0, true)
		pipe.Set(ctx, g.key, blob, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Client exposes the underlying client so other components can share the connection.
func (g *Gateway) Client() *goredis.Client { return g.client }
