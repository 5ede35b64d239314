// Package credential stores mailbox passwords in the system keyring.
package credential

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/99designs/keyring"
)

const serviceName = "mailsync"

// PasswordEnv overrides the keyring when set.
const PasswordEnv = "MAILSYNC_PASSWORD"

// ErrNoPassword is returned when no password is stored for an account.
var ErrNoPassword = errors.New("no password stored")

// Store reads and writes credentials in a keyring.
type Store struct {
	ring   keyring.Keyring
	getenv func(string) string
}

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mailsync/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("mailsync-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Open returns a Store backed by the system keyring.
func Open() (*Store, error) {
	ring, err := openKeyring()
	if err != nil {
		return nil, err
	}
	return NewStore(ring), nil
}

// NewStore wraps an existing keyring.
func NewStore(ring keyring.Keyring) *Store {
	return &Store{ring: ring, getenv: os.Getenv}
}

// PasswordKey is the keyring key holding the password for username.
func PasswordKey(username string) string {
	return "imap-" + strings.ToLower(strings.TrimSpace(username))
}

// Password returns the password for username, preferring PasswordEnv.
func (s *Store) Password(username string) (string, error) {
	if v := s.getenv(PasswordEnv); v != "" {
		return v, nil
	}
	v, err := s.Get(PasswordKey(username))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("%w for %s", ErrNoPassword, username)
	}
	return v, err
}

// SetPassword stores the password for username.
func (s *Store) SetPassword(username, password string) error {
	return s.Set(PasswordKey(username), password)
}

// Get retrieves a credential value by key.
func (s *Store) Get(key string) (string, error) {
	item, err := s.ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores a credential value by key.
func (s *Store) Set(key string, value string) error {
	err := s.ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: "mailsync " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes a credential by key.
func (s *Store) Delete(key string) error {
	if err := s.ring.Remove(key); err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}
