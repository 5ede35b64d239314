// Package login is the interactive account setup form.
package login

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/nhle/mailsync/internal/model"
)

// Result is what the form collects.
type Result struct {
	Account  model.AccountConfig
	Password string
}

// NewForm builds the account form, prefilled from current. The returned
// Result is filled in when the form completes.
func NewForm(current model.AccountConfig) (*huh.Form, *Result) {
	r := &Result{Account: current}
	if r.Account.IMAPPort == "" {
		r.Account.IMAPPort = "993"
	}
	if r.Account.SMTPPort == "" {
		r.Account.SMTPPort = "587"
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("IMAP Host").
				Description("IMAP server hostname").
				Placeholder("imap.example.com").
				Value(&r.Account.IMAPHost).
				Validate(validateRequired("IMAP Host")),
			huh.NewInput().
				Title("IMAP Port").
				Description("IMAP server port (e.g., 993)").
				Value(&r.Account.IMAPPort).
				Validate(validatePort),
			huh.NewConfirm().
				Title("Use TLS").
				Description("Implicit TLS for IMAP; STARTTLS otherwise").
				Affirmative("Yes").
				Negative("No").
				Value(&r.Account.TLS),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("SMTP Host").
				Description("Leave empty to disable sending").
				Placeholder("smtp.example.com").
				Value(&r.Account.SMTPHost),
			huh.NewInput().
				Title("SMTP Port").
				Description("465 for implicit TLS, 587 for STARTTLS").
				Value(&r.Account.SMTPPort).
				Validate(validatePort),
			huh.NewInput().
				Title("From").
				Description("Sender address for outgoing mail").
				Placeholder("Me <me@example.com>").
				Value(&r.Account.From),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Username").
				Placeholder("user@example.com").
				Value(&r.Account.Username).
				Validate(validateRequired("Username")),
			huh.NewInput().
				Title("Password").
				Description("Stored in the system keyring").
				EchoMode(huh.EchoModePassword).
				Value(&r.Password).
				Validate(validateRequired("Password")),
		),
	)
	return form, r
}

// NewClearConfirm builds the confirmation shown before clearing caches.
// *confirmed holds the answer once the form completes.
func NewClearConfirm(confirmed *bool) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Clear all caches?").
				Description("Drops cached pages and every hide, star and favorite.").
				Affirmative("Clear").
				Negative("Cancel").
				Value(confirmed),
		),
	)
}

func validateRequired(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}

func validatePort(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("port must be a number between 1 and 65535")
	}
	return nil
}
