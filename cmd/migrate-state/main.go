// Package main provides a CLI tool to copy the state snapshot from one backend to another.
//
// Typical uses are moving a JSON state file into MongoDB, Postgres or Redis, and
// re-writing a plaintext snapshot sealed with ENCRYPTION_KEY.
//
// Usage:
//
//	migrate-state --from file --to mongo [--dry-run] [--force]
//
// Flags:
//
//	--from:           source backend (file|postgres|mongo|redis)
//	--to:             target backend (file|postgres|mongo|redis)
//	--from-file:      source JSON file when --from=file (default STATE_FILE)
//	--to-file:        target JSON file when --to=file
//	--source-key-env: env var holding the source encryption key (default ENCRYPTION_KEY)
//	--dry-run:        report what would be copied without writing
//	--force:          overwrite a non-empty target
//
// Backend addresses come from the usual environment variables: DB_DSN,
// MONGODB_URI, MONGODB_DATABASE, REDIS_URL, REDIS_STATE_KEY. The target is sealed
// with ENCRYPTION_KEY when set.
//
// Example:
//
//	export MONGODB_URI="mongodb://localhost:27017"
//	./migrate-state --from file --from-file user_states.json --to mongo --dry-run
//	./migrate-state --from file --from-file user_states.json --to mongo
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/ghostbot/config"
	"github.com/onnwee/ghostbot/identity"
	"github.com/onnwee/ghostbot/persist"
	"github.com/onnwee/ghostbot/statestore"
)

func main() {
	_ = godotenv.Load(".env")

	from := flag.String("from", config.BackendFile, "source backend (file|postgres|mongo|redis)")
	to := flag.String("to", "", "target backend (file|postgres|mongo|redis)")
	fromFile := flag.String("from-file", "", "source JSON file (default STATE_FILE)")
	toFile := flag.String("to-file", "", "target JSON file")
	sourceKeyEnv := flag.String("source-key-env", "ENCRYPTION_KEY", "env var holding the source encryption key")
	dryRun := flag.Bool("dry-run", false, "Show what would be migrated without making changes")
	force := flag.Bool("force", false, "Overwrite a non-empty target")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if *to == "" || *to == *from && *toFile == *fromFile {
		slog.Error("--to is required and must differ from --from")
		os.Exit(2)
	}

	srcOpts := envOptions(*from)
	srcOpts.EncryptionKey = os.Getenv(*sourceKeyEnv)
	if *fromFile != "" {
		srcOpts.File = *fromFile
	}
	dstOpts := envOptions(*to)
	if *toFile != "" {
		dstOpts.File = *toFile
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	src, err := statestore.Open(ctx, srcOpts)
	if err != nil {
		slog.Error("failed to open source", slog.String("backend", *from), slog.Any("error", err))
		os.Exit(1)
	}
	defer src.Close(ctx)
	dst, err := statestore.Open(ctx, dstOpts)
	if err != nil {
		slog.Error("failed to open target", slog.String("backend", *to), slog.Any("error", err))
		os.Exit(1)
	}
	defer dst.Close(ctx)

	if _, err := migrateState(ctx, src, dst, *dryRun, *force); err != nil {
		slog.Error("migration failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("migration completed successfully")
}

func envOptions(backend string) statestore.Options {
	return statestore.Options{
		Backend:       backend,
		File:          envOr("STATE_FILE", "user_states.json"),
		DSN:           os.Getenv("DB_DSN"),
		MongoURI:      os.Getenv("MONGODB_URI"),
		MongoDatabase: envOr("MONGODB_DATABASE", "ghost_bot"),
		RedisURL:      os.Getenv("REDIS_URL"),
		RedisKey:      envOr("REDIS_STATE_KEY", "ghost_bot:current_states"),
		EncryptionKey: os.Getenv("ENCRYPTION_KEY"),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// errTargetNotEmpty guards against clobbering live state.
var errTargetNotEmpty = errors.New("target already holds state; use --force to overwrite")

// migrateState copies the aggregate from src to dst and verifies the copy.
// It returns the number of identity entries copied.
func migrateState(ctx context.Context, src, dst persist.Gateway, dryRun, force bool) (int, error) {
	agg, err := src.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load source: %w", err)
	}
	identities := countIdentities(agg)
	if len(agg) == 0 {
		slog.Info("source is empty, nothing to migrate")
		return 0, nil
	}

	existing, err := dst.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load target: %w", err)
	}
	if len(existing) > 0 && !force {
		return 0, errTargetNotEmpty
	}

	slog.Info("found state to migrate",
		slog.Int("entries", len(agg)),
		slog.Int("identities", identities),
		slog.Int("target_entries", len(existing)),
		slog.Bool("dry_run", dryRun))
	if dryRun {
		return identities, nil
	}

	if err := dst.SaveAll(ctx, agg); err != nil {
		return 0, fmt.Errorf("save target: %w", err)
	}

	// Verify the target reads back the same entries
	back, err := dst.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("verify target: %w", err)
	}
	if len(back) != len(agg) {
		return 0, fmt.Errorf("verification failed: wrote %d entries, read back %d", len(agg), len(back))
	}
	for k := range agg {
		if _, ok := back[k]; !ok {
			return 0, fmt.Errorf("verification failed: entry %q missing from target", k)
		}
	}
	slog.Info("migration summary", slog.Int("entries", len(agg)), slog.Int("identities", identities))
	return identities, nil
}

func countIdentities(agg persist.Aggregate) int {
	n := 0
	for k, doc := range agg {
		if k == identity.PendingLinksKey {
			continue
		}
		if _, ok := doc["identifiers"]; ok {
			n++
		}
	}
	return n
}
