package testutil

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/onnwee/ghostbot/crypto"
	"github.com/onnwee/ghostbot/db"
)

// PostgresGateway returns a snapshot gateway on TEST_PG_DSN under a key unique
// to the test, or skips. The key's rows are deleted when the test ends.
func PostgresGateway(t *testing.T, sealer crypto.Sealer) *db.Gateway {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := db.Connect(dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.RunMigrations(database); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	key := "test:" + strings.ReplaceAll(t.Name(), "/", ":")
	t.Cleanup(func() {
		ctx := context.Background()
		_, _ = database.ExecContext(ctx, `DELETE FROM state_snapshots WHERE key = $1`, key)
		_, _ = database.ExecContext(ctx, `DELETE FROM state_snapshot_history WHERE key = $1`, key)
	})
	return db.NewGateway(database, key, sealer)
}
