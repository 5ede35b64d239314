package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/nhle/mailsync/internal/credential"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/ui/login"
)

var loginCommand = &cli.Command{
	Name:  "login",
	Usage: "Configure the IMAP/SMTP account and store its password in the keyring",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "username",
			Aliases: []string{"u"},
			Usage:   "account username; with --plain only the password is prompted",
		},
		&cli.BoolFlag{
			Name:  "plain",
			Usage: "skip the form and only prompt for the password",
		},
	},
	Action: loginAction,
}

func loginAction(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("config")
	cfg, err := model.LoadConfig(path)
	if err != nil {
		return err
	}
	if u := cmd.String("username"); u != "" {
		cfg.Account.Username = u
	}

	var password string
	if cmd.Bool("plain") || !term.IsTerminal(int(os.Stdin.Fd())) {
		if cfg.Account.Username == "" {
			return fmt.Errorf("--username is required without the interactive form")
		}
		password, err = promptPassword(fmt.Sprintf("Password for %s: ", cfg.Account.Username))
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
	} else {
		form, res := login.NewForm(cfg.Account)
		if err := form.RunWithContext(ctx); err != nil {
			return fmt.Errorf("account form: %w", err)
		}
		cfg.Account = res.Account
		password = res.Password
	}

	if strings.TrimSpace(password) == "" {
		return fmt.Errorf("password is required")
	}

	creds, err := credential.Open()
	if err != nil {
		return fmt.Errorf("opening keyring: %w", err)
	}
	if err := creds.SetPassword(cfg.Account.Username, password); err != nil {
		return fmt.Errorf("saving password: %w", err)
	}
	if err := model.SaveConfig(path, cfg); err != nil {
		return err
	}

	fmt.Printf("✓ Saved account %s to %s\n", cfg.Account.Username, path)
	return nil
}

// promptPassword reads a line without echo when stdin is a terminal.
func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
