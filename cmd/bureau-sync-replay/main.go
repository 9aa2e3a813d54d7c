// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// bureau-sync-replay feeds recorded /sync responses through a sync
// session and prints the resulting room summaries. It exercises the
// whole ingestion path (reconciliation, the store, key request
// tracking) without a homeserver, which makes it useful for
// reproducing state bugs from captured traffic.
//
// Each input file holds one sync response or a JSON array of them.
// Comments and trailing commas are allowed. Files are replayed in the
// order given. With a permanent store, replays resume from the stored
// stream cursor: the first batch is treated as the initial sync only
// when the store is empty.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/roomsync/lib/config"
	"github.com/bureau-foundation/roomsync/lib/process"
	"github.com/bureau-foundation/roomsync/lib/ref"
	"github.com/bureau-foundation/roomsync/lib/sealed"
	"github.com/bureau-foundation/roomsync/lib/secret"
	"github.com/bureau-foundation/roomsync/lib/syncloop"
	"github.com/bureau-foundation/roomsync/lib/syncstore"
	"github.com/bureau-foundation/roomsync/lib/version"
	"github.com/bureau-foundation/roomsync/messaging"
	"github.com/bureau-foundation/roomsync/session"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		process.Fatal(err)
	}
}

type options struct {
	configPath     string
	storePath      string
	user           string
	device         string
	sealRecipients []string
	clear          bool
	showVersion    bool
	files          []string
}

func parseFlags(args []string) (*options, *pflag.FlagSet, error) {
	var opts options
	flagSet := pflag.NewFlagSet("bureau-sync-replay", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVar(&opts.configPath, "config", "", "configuration file (default: $"+config.EnvVariable+")")
	flagSet.StringVar(&opts.storePath, "store", "", "SQLite store path, overriding store.path (empty config path selects the in-memory store)")
	flagSet.StringVar(&opts.user, "user", "", "session user ID, e.g. @alice:example.org (required)")
	flagSet.StringVar(&opts.device, "device", "REPLAY", "session device ID")
	flagSet.StringSliceVar(&opts.sealRecipients, "seal-recipient", nil, "age recipient for sealing key requests at rest (repeatable)")
	flagSet.BoolVar(&opts.clear, "clear", false, "wipe the store before replaying")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, flagSet, err
		}
		return nil, flagSet, &process.UsageError{Err: err}
	}
	if help, _ := flagSet.GetBool("help"); help {
		return nil, flagSet, pflag.ErrHelp
	}
	opts.files = flagSet.Args()
	return &opts, flagSet, nil
}

func run(args []string, stdout io.Writer) error {
	opts, flagSet, err := parseFlags(args)
	if errors.Is(err, pflag.ErrHelp) {
		printHelp(flagSet)
		return nil
	}
	if err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Fprintf(stdout, "bureau-sync-replay %s\n", version.Full())
		return nil
	}
	if opts.user == "" {
		return process.Usage("--user is required")
	}
	if len(opts.files) == 0 {
		return process.Usage("no sync batch files given")
	}
	userID, err := ref.ParseUserID(opts.user)
	if err != nil {
		return process.Usage("--user: %w", err)
	}
	deviceID, err := ref.ParseDeviceID(opts.device)
	if err != nil {
		return process.Usage("--device: %w", err)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging, os.Stderr)

	var batches []messaging.SyncResponse
	for _, path := range opts.files {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		decoded, err := messaging.DecodeSyncBatches(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		batches = append(batches, decoded...)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, userID, logger)
	if err != nil {
		return err
	}
	if opts.clear {
		if err := store.Clear(ctx); err != nil {
			store.Close()
			return fmt.Errorf("clearing store: %w", err)
		}
		logger.Info("store cleared")
	}

	sess, err := session.New(session.Config{
		Credentials: session.Credentials{UserID: userID, DeviceID: deviceID},
		Store:       store,
		Logger:      logger,
	})
	if err != nil {
		store.Close()
		return err
	}
	defer sess.Close()

	since := sess.StreamCursor()
	logger.Info("replaying sync batches", "batches", len(batches), "since", since)
	cursor, err := syncloop.Run(ctx, syncloop.NewRecorded(batches), sess, since, syncloop.Config{
		Timeout:        cfg.Sync.Timeout,
		InitialBackoff: cfg.Sync.InitialBackoff,
		MaxBackoff:     cfg.Sync.MaxBackoff,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	if err := sess.Flush(ctx); err != nil {
		return err
	}
	logger.Info("replay finished", "stream_cursor", cursor)

	printSummaries(stdout, sess)
	if pending := sess.PendingKeyRequests(); len(pending) > 0 {
		fmt.Fprintf(stdout, "\n%d pending key request(s)\n", len(pending))
		for _, request := range pending {
			fmt.Fprintf(stdout, "  %s/%s %s room=%s session=%s\n",
				request.UserID, request.DeviceID, request.RequestID, request.Key.RoomID, request.Key.SessionID)
		}
	}
	return nil
}

func loadConfig(opts *options) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if opts.storePath != "" {
		cfg.Store.Path = opts.storePath
	}
	cfg.Sealing.Recipients = append(cfg.Sealing.Recipients, opts.sealRecipients...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger picks a text handler for terminals and JSON otherwise,
// unless the configuration names a format.
func newLogger(logging config.LoggingConfig, output *os.File) *slog.Logger {
	handlerOptions := &slog.HandlerOptions{Level: logging.SlogLevel()}
	format := logging.Format
	if format == "auto" || format == "" {
		format = "json"
		if term.IsTerminal(int(output.Fd())) {
			format = "text"
		}
	}
	if format == "text" {
		return slog.New(slog.NewTextHandler(output, handlerOptions))
	}
	return slog.New(slog.NewJSONHandler(output, handlerOptions))
}

func openStore(ctx context.Context, cfg *config.Config, owner ref.UserID, logger *slog.Logger) (syncstore.Store, error) {
	if cfg.Store.Path == "" {
		if cfg.Sealing.Enabled() {
			logger.Warn("sealing ignored for the in-memory store")
		}
		return syncstore.NewMemoryStore(cfg.Store.EventsPerRoom), nil
	}
	if err := cfg.EnsureStoreDirectory(); err != nil {
		return nil, err
	}

	var sealer *sealed.Sealer
	if cfg.Sealing.Enabled() {
		identity, err := secret.ReadFile(cfg.Sealing.IdentityFile)
		if err != nil {
			return nil, fmt.Errorf("reading sealing identity: %w", err)
		}
		defer identity.Close()
		sealer, err = sealed.NewSealer(cfg.Sealing.Recipients, identity)
		if err != nil {
			return nil, err
		}
	}
	return syncstore.OpenSQLite(ctx, syncstore.SQLiteConfig{
		Path:          cfg.Store.Path,
		PoolSize:      cfg.Store.PoolSize,
		EventsPerRoom: cfg.Store.EventsPerRoom,
		Owner:         owner,
		Sealer:        sealer,
		Logger:        logger,
	})
}

func printSummaries(w io.Writer, sess *session.Session) {
	table := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(table, "ROOM\tNAME\tLATEST\tSENDER\tUNREAD\tNOTIFY\tSTATUS")
	for _, summary := range sess.Summaries() {
		name := ""
		if room := sess.Room(summary.RoomID); room != nil {
			name = room.State().DisplayName(sess.UserID())
		}
		latest, sender := "-", "-"
		if summary.LatestEvent != nil {
			latest = summary.LatestEvent.Type.String()
			if !summary.LatestEvent.Sender.IsZero() {
				sender = summary.LatestEvent.Sender.String()
			}
		}
		status := "joined"
		if summary.IsInvite(sess.UserID()) {
			status = "invited"
			if !summary.Inviter.IsZero() {
				status += " by " + summary.Inviter.String()
			}
		}
		fmt.Fprintf(table, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			summary.RoomID, name, latest, sender, summary.UnreadCount, summary.NotificationCount, status)
	}
	table.Flush()
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `bureau-sync-replay replays recorded /sync responses through a sync
session and prints the resulting room summaries.

Usage:
  bureau-sync-replay --user @alice:example.org [flags] FILE...

Examples:
  # Replay into an in-memory store
  bureau-sync-replay --user @alice:example.org initial.json live-*.jsonc

  # Resume against a persistent store, sealing key requests at rest
  bureau-sync-replay --user @alice:example.org --store ~/.cache/sync.db \
      --seal-recipient age1... --config sync.yaml batches.json

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
