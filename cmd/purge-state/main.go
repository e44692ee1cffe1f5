// Package main provides a CLI tool to purge conversation data from the state snapshot.
//
// It clears summaries and/or recent messages while keeping identities, links and
// cones. A JSON backup of the untouched snapshot is written first. Stop the bot
// before purging; a running instance would overwrite the result with its next save.
//
// Usage:
//
//	purge-state [--summaries] [--messages] [--user discord:123,twitch:456] [--backup FILE] [--dry-run]
//
// The state backend is selected exactly as for the bot (STATE_BACKEND, STATE_FILE,
// DB_DSN, MONGODB_URI, REDIS_URL, ENCRYPTION_KEY).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/ghostbot/config"
	"github.com/onnwee/ghostbot/identity"
	"github.com/onnwee/ghostbot/persist"
	"github.com/onnwee/ghostbot/statestore"
)

func main() {
	_ = godotenv.Load(".env")

	summaries := flag.Bool("summaries", false, "Reset relationship and conversation summaries")
	messages := flag.Bool("messages", false, "Clear recent message windows")
	users := flag.String("user", "", "Comma-separated platform:id accounts to purge (default: everyone)")
	backup := flag.String("backup", fmt.Sprintf("state_backup_%s.json", time.Now().Format("20060102_150405")), "Backup file written before purging (empty disables)")
	dryRun := flag.Bool("dry-run", false, "Report what would be purged without writing")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	opts := identity.PurgeOptions{Summaries: *summaries, Messages: *messages}
	for _, u := range strings.Split(*users, ",") {
		if u = strings.TrimSpace(u); u != "" {
			opts.Only = append(opts.Only, u)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	backend, err := statestore.Open(ctx, statestore.FromConfig(cfg))
	if err != nil {
		slog.Error("failed to open state backend", slog.Any("error", err))
		os.Exit(1)
	}
	defer backend.Close(ctx)

	n, err := purgeState(ctx, backend, opts, *backup, *dryRun)
	if err != nil {
		slog.Error("purge failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("purge completed", slog.Int("identities_changed", n), slog.Bool("dry_run", *dryRun))
}

var errNothingSelected = errors.New("nothing to purge: pass --summaries and/or --messages")

// purgeState applies opts to the snapshot in gw and returns how many identities changed.
// Entries that are not identities are written back untouched.
func purgeState(ctx context.Context, gw persist.Gateway, opts identity.PurgeOptions, backupPath string, dryRun bool) (int, error) {
	if !opts.Summaries && !opts.Messages {
		return 0, errNothingSelected
	}
	agg, err := gw.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load state: %w", err)
	}

	if backupPath != "" && !dryRun {
		raw, err := persist.Encode(agg)
		if err != nil {
			return 0, fmt.Errorf("encode backup: %w", err)
		}
		if err := os.WriteFile(backupPath, raw, 0o600); err != nil {
			return 0, fmt.Errorf("write backup: %w", err)
		}
		slog.Info("backup written", slog.String("path", backupPath), slog.Int("entries", len(agg)))
	}

	store := identity.NewStore()
	if err := store.Restore(agg); err != nil {
		return 0, fmt.Errorf("restore identities: %w", err)
	}
	n, err := store.Purge(ctx, opts)
	if err != nil {
		return 0, err
	}
	if dryRun || n == 0 {
		return n, nil
	}

	snap, err := store.Snapshot(ctx)
	if err != nil {
		return 0, fmt.Errorf("snapshot identities: %w", err)
	}
	out := make(persist.Aggregate, len(agg))
	for k, doc := range agg {
		if k == identity.PendingLinksKey {
			continue
		}
		if _, isIdentity := doc["identifiers"]; isIdentity {
			continue
		}
		out[k] = doc
	}
	for k, doc := range snap {
		out[k] = doc
	}
	if err := gw.SaveAll(ctx, out); err != nil {
		return 0, fmt.Errorf("save state: %w", err)
	}
	return n, nil
}
