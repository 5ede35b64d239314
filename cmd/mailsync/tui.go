package main

import (
	"context"
	"fmt"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"github.com/nhle/mailsync/internal/app"
	"github.com/nhle/mailsync/internal/logging"
	appsync "github.com/nhle/mailsync/internal/sync"
)

var tuiCommand = &cli.Command{
	Name:  "tui",
	Usage: "Open the interactive mailbox browser",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "folder",
			Usage: "folder to open first",
			Value: "INBOX",
		},
		&cli.IntFlag{
			Name:  "page-size",
			Usage: "messages per page",
			Value: 20,
		},
	},
	Action: tuiAction,
}

func tuiAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// The terminal belongs to the UI, so logs go to a file next to the
	// store.
	logPath := filepath.Join(filepath.Dir(cfg.Store.Path), "mailsync.log")
	logger, closeLog, err := logging.NewFile(cfg.Log, logPath)
	if err != nil {
		return err
	}
	defer closeLog()

	e, err := openEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer e.Close()

	rec := appsync.New(e.svc, cfg.Reconcile.Interval, logger)
	defer rec.Stop()

	m := app.New(e.svc, rec, cmd.String("folder"), cmd.Int("page-size"))
	if _, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil {
		return fmt.Errorf("running tui: %w", err)
	}
	return nil
}
