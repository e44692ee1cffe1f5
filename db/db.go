// Package db stores the state snapshot in Postgres. The whole aggregate lives in
// one row of state_snapshots, optionally sealed with AES-256-GCM; the row it
// replaces is kept in state_snapshot_history.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/onnwee/ghostbot/crypto"
	"github.com/onnwee/ghostbot/persist"
)

// DefaultKey is the snapshot row key.
const DefaultKey = "current_states"

// DefaultHistory is how many replaced payloads are kept per key.
const DefaultHistory = 5

// Connect opens a Postgres connection using dsn.
func Connect(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is empty")
	}
	return sql.Open("pgx", dsn)
}

// Gateway implements persist.Gateway on a state_snapshots row.
type Gateway struct {
	DB      *sql.DB
	Key     string
	Sealer  crypto.Sealer
	History int
}

// NewGateway returns a gateway for key (DefaultKey when empty). A nil sealer
// stores plaintext.
func NewGateway(db *sql.DB, key string, sealer crypto.Sealer) *Gateway {
	if key == "" {
		key = DefaultKey
	}
	if sealer == nil {
		sealer = crypto.Plain{}
	}
	if sealer.Version() == crypto.VersionPlain {
		slog.Warn("ENCRYPTION_KEY not set, state snapshots will be stored in plaintext", slog.String("component", "db"))
	}
	return &Gateway{DB: db, Key: key, Sealer: sealer, History: DefaultHistory}
}

// LoadAll reads the snapshot row; a missing row is an empty aggregate.
func (g *Gateway) LoadAll(ctx context.Context) (persist.Aggregate, error) {
	var payload []byte
	var version int
	err := g.DB.QueryRowContext(ctx,
		`SELECT payload, encryption_version FROM state_snapshots WHERE key = $1`, g.Key).
		Scan(&payload, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return persist.Aggregate{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select snapshot: %w", err)
	}

	plain, err := g.open(payload, version)
	if err != nil {
		return nil, err
	}
	return persist.Decode(plain)
}

func (g *Gateway) open(payload []byte, version int) ([]byte, error) {
	switch version {
	case crypto.VersionPlain:
		return payload, nil
	case crypto.VersionAESGCM:
		if g.Sealer.Version() != crypto.VersionAESGCM {
			return nil, fmt.Errorf("snapshot is encrypted but ENCRYPTION_KEY not configured")
		}
		plain, err := g.Sealer.Open(payload, g.Key)
		if err != nil {
			return nil, fmt.Errorf("decrypt snapshot: %w", err)
		}
		return plain, nil
	}
	return nil, fmt.Errorf("unknown encryption_version %d", version)
}

// SaveAll replaces the snapshot row inside a transaction, moving the previous
// payload into history and pruning history beyond g.History entries.
func (g *Gateway) SaveAll(ctx context.Context, agg persist.Aggregate) error {
	plain, err := persist.Encode(agg)
	if err != nil {
		return err
	}
	payload, err := g.Sealer.Seal(plain, g.Key)
	if err != nil {
		return fmt.Errorf("encrypt snapshot: %w", err)
	}

	tx, err := g.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if g.History > 0 {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO state_snapshot_history(key, payload, encryption_version)
			 SELECT key, payload, encryption_version FROM state_snapshots WHERE key = $1`, g.Key); err != nil {
			return fmt.Errorf("archive snapshot: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM state_snapshot_history WHERE key = $1 AND id NOT IN (
			   SELECT id FROM state_snapshot_history WHERE key = $1 ORDER BY id DESC LIMIT $2)`,
			g.Key, g.History); err != nil {
			return fmt.Errorf("prune history: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO state_snapshots(key, payload, encryption_version, updated_at)
		 VALUES($1, $2, $3, NOW())
		 ON CONFLICT(key) DO UPDATE SET
		   payload=EXCLUDED.payload,
		   encryption_version=EXCLUDED.encryption_version,
		   updated_at=NOW()`,
		g.Key, payload, g.Sealer.Version()); err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return tx.Commit()
}

// Ping reports whether the database is reachable.
func (g *Gateway) Ping(ctx context.Context) error { return g.DB.PingContext(ctx) }

// HistoryLen returns how many archived payloads exist for the gateway's key.
func (g *Gateway) HistoryLen(ctx context.Context) (int, error) {
	var n int
	err := g.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM state_snapshot_history WHERE key = $1`, g.Key).Scan(&n)
	return n, err
}
