package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.com/nhle/mailsync/internal/gateway"
	"github.com/nhle/mailsync/internal/model"
)

// Compose renders msg as an RFC 5322 text/plain message and
// returns it with its generated Message-ID.
func Compose(from string, msg model.Outgoing, now time.Time) ([]byte, string, error) {
	fromAddr, err := mail.ParseAddress(from)
	if err != nil {
		return nil, "", fmt.Errorf("parsing sender %q: %w", from, err)
	}

	to := make([]*mail.Address, 0, len(msg.To))
	for _, rcpt := range msg.To {
		addr, err := mail.ParseAddress(rcpt)
		if err != nil {
			return nil, "", fmt.Errorf("parsing recipient %q: %w", rcpt, err)
		}
		to = append(to, addr)
	}

	domain := "localhost"
	if _, host, ok := strings.Cut(fromAddr.Address, "@"); ok && host != "" {
		domain = host
	}
	messageID := uuid.New().String() + "@" + domain

	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{fromAddr})
	h.SetAddressList("To", to)
	h.SetSubject(msg.Subject)
	h.SetMessageID(messageID)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, "", fmt.Errorf("creating message writer: %w", err)
	}
	if _, err := io.WriteString(w, msg.Body); err != nil {
		return nil, "", fmt.Errorf("writing message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing message body: %w", err)
	}

	return buf.Bytes(), messageID, nil
}

// sender returns the envelope sender address.
func (g *Gateway) sender() string {
	if g.cfg.From != "" {
		return g.cfg.From
	}
	return g.cfg.Username
}

// Send transmits msg through the configured SMTP server. Port 465 uses
// implicit TLS; any other port upgrades with STARTTLS.
func (g *Gateway) Send(ctx context.Context, msg model.Outgoing) (gateway.Delivery, error) {
	const op = "send"

	if g.cfg.SMTPHost == "" || g.cfg.Username == "" || g.cfg.Password == "" {
		return gateway.Delivery{}, gateway.Errorf(gateway.ErrDeliveryConfig, op, "", "smtp host and credentials are required")
	}
	if len(msg.To) == 0 {
		return gateway.Delivery{}, gateway.Errorf(gateway.ErrDelivery, op, "", "no recipients")
	}

	now := time.Now()
	raw, messageID, err := Compose(g.sender(), msg, now)
	if err != nil {
		return gateway.Delivery{}, gateway.NewError(gateway.ErrDelivery, op, "", err)
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return gateway.Delivery{}, err
	}

	var (
		inflightMu sync.Mutex
		inflight   *smtp.Client
	)
	abort := func() {
		inflightMu.Lock()
		defer inflightMu.Unlock()
		if inflight != nil {
			_ = inflight.Close()
		}
	}

	_, err = gateway.Deadline(ctx, g.cfg.Timeout, op, "", abort, func(ctx context.Context) (struct{}, error) {
		c, err := g.dialSMTP()
		if err != nil {
			return struct{}{}, err
		}
		defer c.Close()

		inflightMu.Lock()
		inflight = c
		inflightMu.Unlock()

		auth := sasl.NewPlainClient("", g.cfg.Username, g.cfg.Password)
		if err := c.Auth(auth); err != nil {
			return struct{}{}, gateway.NewError(gateway.ErrDeliveryConfig, op, "", fmt.Errorf("smtp auth: %w", err))
		}

		if err := c.SendMail(g.sender(), msg.To, bytes.NewReader(raw)); err != nil {
			return struct{}{}, gateway.NewError(smtpKind(err), op, "", err)
		}
		_ = c.Quit()
		return struct{}{}, nil
	})
	if err != nil {
		return gateway.Delivery{}, err
	}

	g.log.Info().
		Str("message_id", messageID).
		Int("recipients", len(msg.To)).
		Msg("message sent")

	return gateway.Delivery{ID: messageID, SentAt: now}, nil
}

func (g *Gateway) dialSMTP() (*smtp.Client, error) {
	addr := net.JoinHostPort(g.cfg.SMTPHost, g.cfg.SMTPPort)

	var (
		c   *smtp.Client
		err error
	)
	if g.cfg.SMTPPort == "465" {
		c, err = smtp.DialTLS(addr, nil)
	} else {
		c, err = smtp.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, gateway.NewError(gateway.ErrDelivery, "send", "", fmt.Errorf("dialing %s: %w", addr, err))
	}
	return c, nil
}

// smtpKind classifies an SMTP transaction failure. Authentication and
// sender rejections are configuration problems; everything else may be
// retried.
func smtpKind(err error) error {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		switch smtpErr.Code {
		case 530, 534, 535, 553:
			return gateway.ErrDeliveryConfig
		}
	}
	return gateway.ErrDelivery
}
