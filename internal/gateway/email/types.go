package email

import (
	"time"

	"github.com/nhle/mailsync/internal/rate"
)

// Config holds the IMAP and SMTP server settings for one account.
type Config struct {
	IMAPHost string
	IMAPPort string
	SMTPHost string
	SMTPPort string
	Username string
	Password string
	From     string

	// TLS selects implicit TLS for IMAP; when false STARTTLS is used.
	TLS bool

	// Timeout bounds every protocol operation. Zero disables the bound.
	Timeout time.Duration

	// MaxPageSize caps FetchPage requests.
	MaxPageSize int

	// FetchBodies makes FetchPage download and parse message bodies
	// instead of envelopes only.
	FetchBodies bool

	// Limiter gates every outbound call. Nil means unlimited.
	Limiter rate.Limiter
}

// favoriteKeyword is the IMAP keyword used to mirror the local favorite
// flag.
const favoriteKeyword = "$Favorite"
