package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/nhle/mailsync/internal/cache"
	"github.com/nhle/mailsync/internal/credential"
	"github.com/nhle/mailsync/internal/gateway"
	"github.com/nhle/mailsync/internal/gateway/email"
	"github.com/nhle/mailsync/internal/gateway/maildir"
	"github.com/nhle/mailsync/internal/logging"
	"github.com/nhle/mailsync/internal/mailsync"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/overlay"
	"github.com/nhle/mailsync/internal/rate"
	"github.com/nhle/mailsync/internal/store"
)

// engine is everything a command needs to talk to the mailbox.
type engine struct {
	cfg     *model.AppConfig
	log     zerolog.Logger
	svc     *mailsync.Service
	store   *store.SQLiteStore
	gw      gateway.Gateway
	limiter *rate.TokenBucket
}

// Close releases the gateway session, the rate limiter and the database.
func (e *engine) Close() {
	if err := e.gw.Close(); err != nil {
		e.log.Warn().Err(err).Msg("closing gateway")
	}
	if e.limiter != nil {
		e.limiter.Stop()
	}
	if err := e.store.Close(); err != nil {
		e.log.Warn().Err(err).Msg("closing store")
	}
}

// loadConfig reads the file named by --config and applies --log-level.
func loadConfig(cmd *cli.Command) (*model.AppConfig, error) {
	cfg, err := model.LoadConfig(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	if lvl := cmd.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	return cfg, nil
}

// stderrLogger builds the logger used by every command except the TUI.
func stderrLogger(cfg *model.AppConfig) (zerolog.Logger, error) {
	return logging.New(cfg.Log, os.Stderr)
}

// openEngine wires config, store, overlay, cache and gateway into a Service.
func openEngine(ctx context.Context, cfg *model.AppConfig, logger zerolog.Logger) (*engine, error) {
	if dir := filepath.Dir(cfg.Store.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory %s: %w", dir, err)
		}
	}
	db, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	ov := overlay.New(overlay.WithJournal(db))
	if err := ov.Load(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("loading overlay: %w", err)
	}

	e := &engine{cfg: cfg, log: logger, store: db}
	if err := e.openGateway(); err != nil {
		db.Close()
		return nil, err
	}

	svc, err := mailsync.New(mailsync.Options{
		Gateway:              e.gw,
		Cache:                cache.New(cfg.Cache.TTL, cache.WithCountTTL(cfg.Cache.CountTTL)),
		Overlay:              ov,
		Deliveries:           db,
		Logger:               logger,
		MaxPageSize:          cfg.Gateway.MaxPageSize,
		Propagate:            cfg.Flags.Propagate,
		ReconcileBatch:       cfg.Reconcile.BatchSize,
		ReconcileParallelism: cfg.Reconcile.Parallelism,
	})
	if err != nil {
		e.Close()
		return nil, err
	}
	e.svc = svc

	logger.Debug().
		Str("gateway", cfg.Gateway.Kind).
		Str("store", cfg.Store.Path).
		Int("overlay_records", ov.Len()).
		Msg("engine ready")
	return e, nil
}

func (e *engine) openGateway() error {
	cfg := e.cfg
	switch cfg.Gateway.Kind {
	case "maildir":
		gw, err := maildir.New(maildir.Config{
			Root:        cfg.Gateway.MaildirPath,
			From:        cfg.Account.From,
			Timeout:     cfg.Gateway.Timeout,
			MaxPageSize: cfg.Gateway.MaxPageSize,
			FetchBodies: cfg.Gateway.FetchBodies,
		}, e.log)
		if err != nil {
			return fmt.Errorf("opening maildir: %w", err)
		}
		e.gw = gw
		return nil

	default:
		creds, err := credential.Open()
		if err != nil {
			return fmt.Errorf("opening keyring: %w", err)
		}
		password, err := creds.Password(cfg.Account.Username)
		if err != nil {
			return fmt.Errorf("loading password for %s (run 'mailsync login'): %w", cfg.Account.Username, err)
		}

		e.limiter = rate.NewTokenBucket(cfg.Gateway.RatePerSec)
		e.gw = email.New(email.Config{
			IMAPHost:    cfg.Account.IMAPHost,
			IMAPPort:    cfg.Account.IMAPPort,
			SMTPHost:    cfg.Account.SMTPHost,
			SMTPPort:    cfg.Account.SMTPPort,
			Username:    cfg.Account.Username,
			Password:    password,
			From:        cfg.Account.From,
			TLS:         cfg.Account.TLS,
			Timeout:     cfg.Gateway.Timeout,
			MaxPageSize: cfg.Gateway.MaxPageSize,
			FetchBodies: cfg.Gateway.FetchBodies,
			Limiter:     e.limiter,
		}, e.log)
		return nil
	}
}

// withEngine loads config, opens the engine and runs fn with it.
func withEngine(ctx context.Context, cmd *cli.Command, fn func(context.Context, *engine) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := stderrLogger(cfg)
	if err != nil {
		return err
	}
	e, err := openEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(ctx, e)
}
