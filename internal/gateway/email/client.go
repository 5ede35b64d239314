package email

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/rs/zerolog"

	"github.com/nhle/mailsync/internal/gateway"
	"github.com/nhle/mailsync/internal/rate"
)

// session owns the single authenticated IMAP connection shared by every
// gateway call. All access goes through run, which serializes commands.
type session struct {
	cfg Config
	log zerolog.Logger

	mu     sync.Mutex
	client *imapclient.Client

	// aborted is the client last closed by a deadline. It may still be
	// cached in client. Guarded by abortMu, which abort takes without s.mu.
	abortMu sync.Mutex
	aborted *imapclient.Client
}

// connect dials and authenticates a new client.
func (s *session) connect() (*imapclient.Client, error) {
	addr := net.JoinHostPort(s.cfg.IMAPHost, s.cfg.IMAPPort)

	var (
		client *imapclient.Client
		err    error
	)
	if s.cfg.TLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, gateway.NewError(gateway.ErrUnavailable, "connect", "", fmt.Errorf("dialing %s: %w", addr, err))
	}

	if err := client.Login(s.cfg.Username, s.cfg.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, gateway.NewError(gateway.ErrUnavailable, "login", "",
			fmt.Errorf("authentication failed for %s: %w", s.cfg.Username, err))
	}

	s.log.Debug().Str("addr", addr).Str("username", s.cfg.Username).Msg("imap session established")
	return client, nil
}

// acquire returns the cached client, dialing a new one if needed. Callers
// hold s.mu.
func (s *session) acquire() (*imapclient.Client, error) {
	if s.client != nil {
		if !s.takeAborted(s.client) {
			return s.client, nil
		}
		s.client = nil
	}
	if s.cfg.IMAPHost == "" || s.cfg.Username == "" {
		return nil, gateway.Errorf(gateway.ErrUnavailable, "connect", "", "imap host and username are required")
	}
	c, err := s.connect()
	if err != nil {
		return nil, err
	}
	s.client = c
	return c, nil
}

// markAborted records c as closed by a deadline.
func (s *session) markAborted(c *imapclient.Client) {
	s.abortMu.Lock()
	defer s.abortMu.Unlock()
	s.aborted = c
}

// takeAborted reports whether c was closed by a deadline and forgets it.
func (s *session) takeAborted(c *imapclient.Client) bool {
	s.abortMu.Lock()
	defer s.abortMu.Unlock()
	if c == nil || s.aborted != c {
		return false
	}
	s.aborted = nil
	return true
}

// drop discards the cached client. Callers hold s.mu.
func (s *session) drop() {
	if s.client == nil {
		return
	}
	_ = s.client.Close()
	s.client = nil
}

// selectFolder selects folder and returns the number of messages it
// holds.
func selectFolder(c *imapclient.Client, folder string) (uint32, error) {
	data, err := c.Select(folder, nil).Wait()
	if err != nil {
		return 0, err
	}
	return data.NumMessages, nil
}

// close logs out and releases the connection.
func (s *session) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Logout().Wait()
	_ = s.client.Close()
	s.client = nil
	return err
}

// run executes fn on the shared client under the configured deadline and
// rate limit. When the deadline passes the connection is closed, which
// unblocks fn, and the session is re-dialled on the next call.
func run[T any](
	ctx context.Context,
	s *session,
	limiter rate.Limiter,
	op, folder string,
	fn func(c *imapclient.Client) (T, error),
) (T, error) {
	var zero T

	if err := limiter.Wait(ctx); err != nil {
		return zero, err
	}

	var (
		inflightMu sync.Mutex
		inflight   *imapclient.Client
	)
	abort := func() {
		inflightMu.Lock()
		defer inflightMu.Unlock()
		if inflight != nil {
			_ = inflight.Close()
			s.markAborted(inflight)
		}
	}

	return gateway.Deadline(ctx, s.cfg.Timeout, op, folder, abort, func(ctx context.Context) (T, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		if err := ctx.Err(); err != nil {
			return zero, err
		}

		c, err := s.acquire()
		if err != nil {
			return zero, err
		}
		inflightMu.Lock()
		inflight = c
		inflightMu.Unlock()

		v, err := fn(c)
		if ctx.Err() != nil {
			// The client was closed by abort.
			s.takeAborted(c)
			s.client = nil
			return zero, ctx.Err()
		}
		if err != nil {
			kind := classify(err)
			if errors.Is(kind, gateway.ErrUnavailable) {
				s.log.Warn().Err(err).Str("op", op).Msg("dropping broken imap session")
				s.drop()
			}
			var gwErr *gateway.Error
			if errors.As(err, &gwErr) {
				return zero, err
			}
			return zero, gateway.NewError(kind, op, folder, err)
		}
		return v, nil
	})
}

// classify maps a go-imap error to a gateway error kind. Server status
// responses are protocol or not-found errors; anything else means the
// connection itself failed.
func classify(err error) error {
	if kind := gateway.KindOf(err); kind != nil {
		return kind
	}

	var imapErr *imap.Error
	if errors.As(err, &imapErr) {
		switch imapErr.Code {
		case imap.ResponseCodeNonExistent, imap.ResponseCodeTryCreate:
			return gateway.ErrNotFound
		}
		return gateway.ErrProtocol
	}
	return gateway.ErrUnavailable
}
