package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/nhle/mailsync/internal/model"
)

func main() {
	cmd := &cli.Command{
		Name:    "mailsync",
		Usage:   "Browse a remote mailbox through a local cache and overlay",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the YAML config file",
				Value:   model.DefaultConfigPath(),
				Sources: cli.EnvVars("MAILSYNC_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override log.level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			tuiCommand,
			serveCommand,
			loginCommand,
			foldersCommand,
			fetchCommand,
			countCommand,
			sendCommand,
			removeCommand,
			undeleteCommand,
			moveCommand,
			cleanupCommand,
			clearCacheCommand,
			deletedCommand,
			testConnectionCommand,
		},
		DefaultCommand: "tui",
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "mailsync:", err)
		os.Exit(1)
	}
}
