package model

import (
	"fmt"
	"strings"
)

// Origin identifies which gateway produced a message identifier.
type Origin string

const (
	OriginIMAP    Origin = "imap"
	OriginMaildir Origin = "maildir"
	OriginTest    Origin = "test"
)

// MessageRef is the decoded form of a message identifier.
type MessageRef struct {
	Origin Origin
	Folder string
	UID    string
}

// String encodes the reference back to its opaque identifier.
func (r MessageRef) String() string {
	return NewMessageID(r.Origin, r.Folder, r.UID)
}

// NewMessageID builds the opaque identifier for a message from its
// protocol-native address. The identifier is stable for as long as the
// message stays in folder; relocation yields a new identifier.
func NewMessageID(origin Origin, folder, uid string) string {
	return string(origin) + ":" + folder + ":" + uid
}

// ParseMessageID decodes an identifier produced by NewMessageID. Folder
// names may themselves contain ':', so the UID is taken from the last
// separator.
func ParseMessageID(id string) (MessageRef, error) {
	origin, rest, ok := strings.Cut(id, ":")
	if !ok || origin == "" {
		return MessageRef{}, fmt.Errorf("invalid message id %q: missing origin", id)
	}

	idx := strings.LastIndexByte(rest, ':')
	if idx <= 0 || idx == len(rest)-1 {
		return MessageRef{}, fmt.Errorf("invalid message id %q: missing folder or uid", id)
	}

	return MessageRef{
		Origin: Origin(origin),
		Folder: rest[:idx],
		UID:    rest[idx+1:],
	}, nil
}
