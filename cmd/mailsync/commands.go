package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/nhle/mailsync/internal/mailsync"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/theme"
	"github.com/nhle/mailsync/internal/ui/login"
)

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "json",
		Usage: "print JSON instead of a table",
	}
}

var foldersCommand = &cli.Command{
	Name:  "folders",
	Usage: "List the mailbox folders",
	Flags: []cli.Flag{jsonFlag()},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		return withEngine(ctx, cmd, func(ctx context.Context, e *engine) error {
			folders, err := e.svc.ListAvailableFolders(ctx)
			if err != nil {
				return err
			}
			if cmd.Bool("json") {
				return printJSON(folders)
			}
			for _, f := range folders {
				name := theme.FolderStyle(f.Attributes).Width(32).Render(f.Name)
				fmt.Printf("%s %6d  %s\n", name, f.Count, strings.Join(f.Attributes, " "))
			}
			return nil
		})
	},
}

var fetchCommand = &cli.Command{
	Name:      "fetch",
	Usage:     "Print one page of a folder, newest first",
	ArgsUsage: "[folder]",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "messages per page"},
		&cli.IntFlag{Name: "page", Aliases: []string{"p"}, Value: 1, Usage: "1-based page number"},
		jsonFlag(),
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		folder := cmd.Args().First()
		if folder == "" {
			folder = "INBOX"
		}
		return withEngine(ctx, cmd, func(ctx context.Context, e *engine) error {
			page, err := e.svc.FetchEmails(ctx, folder, cmd.Int("limit"), cmd.Int("page"))
			if err != nil {
				return err
			}
			if cmd.Bool("json") {
				return printJSON(page)
			}
			for _, m := range page.Messages {
				fmt.Printf("%s %-40s %-28s %s\n",
					theme.FlagMarks(m.Flags.Starred, m.Flags.Favorited),
					m.Subject, m.From, m.Date.Local().Format(time.DateTime))
				fmt.Printf("   %s\n", theme.DimmedStyle.Render(m.ID))
			}
			cached := ""
			if page.Cached {
				cached = " (cached)"
			}
			fmt.Printf("page %d, %d of %d messages%s\n", page.Page, len(page.Messages), page.Total, cached)
			return nil
		})
	},
}

var countCommand = &cli.Command{
	Name:      "count",
	Usage:     "Print the number of messages in a folder",
	ArgsUsage: "[folder]",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		folder := cmd.Args().First()
		if folder == "" {
			folder = "INBOX"
		}
		return withEngine(ctx, cmd, func(ctx context.Context, e *engine) error {
			n, err := e.svc.GetFolderEmailCount(ctx, folder)
			if err != nil {
				return err
			}
			fmt.Println(n)
			return nil
		})
	},
}

var sendCommand = &cli.Command{
	Name:  "send",
	Usage: "Send a plain-text message; the body is read from stdin when --body is empty",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{Name: "to", Usage: "recipient (repeatable)", Required: true},
		&cli.StringFlag{Name: "subject", Aliases: []string{"s"}},
		&cli.StringFlag{Name: "body", Aliases: []string{"b"}},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		body := cmd.String("body")
		if body == "" {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("reading body: %w", err)
			}
			body = string(b)
		}
		return withEngine(ctx, cmd, func(ctx context.Context, e *engine) error {
			d, err := e.svc.Send(ctx, cmd.StringSlice("to"), cmd.String("subject"), body)
			if err != nil {
				return err
			}
			fmt.Printf("✓ Sent %s\n", d.ID)
			return nil
		})
	},
}

var cleanupCommand = &cli.Command{
	Name:  "cleanup",
	Usage: "Drop hide records for messages no longer on the server",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		return withEngine(ctx, cmd, func(ctx context.Context, e *engine) error {
			n, err := e.svc.CleanupStaleDeleted(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%d stale entries removed\n", n)
			return nil
		})
	},
}

var clearCacheCommand = &cli.Command{
	Name:  "clear-cache",
	Usage: "Clear the fetch cache and every local hide, star and favorite",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "do not ask for confirmation"},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		if !cmd.Bool("yes") {
			confirmed := false
			if err := login.NewClearConfirm(&confirmed).RunWithContext(ctx); err != nil {
				return err
			}
			if !confirmed {
				return nil
			}
		}
		return withEngine(ctx, cmd, func(ctx context.Context, e *engine) error {
			if err := e.svc.ClearAllCaches(ctx); err != nil {
				return err
			}
			fmt.Println("✓ Caches cleared")
			return nil
		})
	},
}

var deletedCommand = &cli.Command{
	Name:  "deleted",
	Usage: "List hidden messages, oldest first",
	Flags: []cli.Flag{jsonFlag()},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		return withEngine(ctx, cmd, func(ctx context.Context, e *engine) error {
			recs := e.svc.ListDeleted()
			if cmd.Bool("json") {
				return printJSON(recs)
			}
			for _, r := range recs {
				at := ""
				if r.DeletedAt != nil {
					at = r.DeletedAt.Local().Format(time.DateTime)
				}
				fmt.Printf("%s  %-20s %s\n", at, r.Folder, r.ID)
			}
			return nil
		})
	},
}

var testConnectionCommand = &cli.Command{
	Name:  "test-connection",
	Usage: "Check that the configured account can be reached",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		return withEngine(ctx, cmd, func(ctx context.Context, e *engine) error {
			st := e.svc.TestConnection(ctx)
			if !st.Success {
				return fmt.Errorf("connection failed: %s", st.Message)
			}
			fmt.Printf("✓ %s\n", st.Message)
			return nil
		})
	},
}

var removeCommand = &cli.Command{
	Name:      "remove",
	Usage:     "Hide a message locally, or move it to the trash with --action move_to_trash",
	ArgsUsage: "<message-id>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "folder", Aliases: []string{"f"}, Usage: "folder holding the message (default: from the id)"},
		&cli.StringFlag{Name: "action", Aliases: []string{"a"}, Value: "soft", Usage: "soft or move_to_trash"},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		id := cmd.Args().First()
		if id == "" {
			return fmt.Errorf("message id is required")
		}
		action := mailsync.ParseRemoveAction(cmd.String("action"))
		return withEngine(ctx, cmd, func(ctx context.Context, e *engine) error {
			res, err := e.svc.RemoveMessage(ctx, id, messageFolder(cmd, id), action)
			if err != nil {
				return err
			}
			if res.To != "" {
				fmt.Printf("✓ Moved to %s\n", res.To)
				return nil
			}
			fmt.Println("✓ Hidden")
			return nil
		})
	},
}

var undeleteCommand = &cli.Command{
	Name:      "undelete",
	Usage:     "Show a hidden message again",
	ArgsUsage: "<message-id>",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		id := cmd.Args().First()
		if id == "" {
			return fmt.Errorf("message id is required")
		}
		return withEngine(ctx, cmd, func(ctx context.Context, e *engine) error {
			if err := e.svc.UndeleteEmail(ctx, id); err != nil {
				return err
			}
			fmt.Println("✓ Restored")
			return nil
		})
	},
}

var moveCommand = &cli.Command{
	Name:      "move",
	Usage:     "Move a message to another folder",
	ArgsUsage: "<message-id> <target-folder>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "folder", Aliases: []string{"f"}, Usage: "source folder (default: from the id)"},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		if cmd.Args().Len() != 2 {
			return fmt.Errorf("usage: mailsync move <message-id> <target-folder>")
		}
		id, target := cmd.Args().Get(0), cmd.Args().Get(1)
		return withEngine(ctx, cmd, func(ctx context.Context, e *engine) error {
			res, err := e.svc.Move(ctx, id, messageFolder(cmd, id), target)
			if err != nil {
				return err
			}
			fmt.Printf("✓ Moved to %s %s\n", res.To, res.NewID)
			return nil
		})
	},
}

// messageFolder returns the --folder flag, or the folder encoded in id.
func messageFolder(cmd *cli.Command, id string) string {
	if f := cmd.String("folder"); f != "" {
		return f
	}
	ref, err := model.ParseMessageID(id)
	if err != nil {
		return ""
	}
	return ref.Folder
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
