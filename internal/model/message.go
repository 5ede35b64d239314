package model

import (
	"strings"
	"time"
)

// Flags holds the UI-relevant state of a message. Seen, Answered and
// Flagged come from the remote server; Starred and Favorited are driven by
// the local overlay.
type Flags struct {
	Seen      bool `json:"seen"`
	Answered  bool `json:"answered"`
	Flagged   bool `json:"flagged"`
	Starred   bool `json:"starred"`
	Favorited bool `json:"favorited"`
}

// Attachment holds metadata about a message attachment.
type Attachment struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MIMEType string `json:"mime_type"`
}

// Message is a single mail message as reconstructed from a gateway fetch.
// It is transient: it lives only as long as the fetch cache keeps it.
type Message struct {
	// ID is the opaque, origin-prefixed identifier (see NewMessageID).
	ID string `json:"id"`

	// Folder is the mailbox the message was fetched from.
	Folder string `json:"folder"`

	// UID is the protocol-native unique id within Folder.
	UID string `json:"uid"`

	// MessageID is the RFC 5322 Message-ID header, without angle brackets.
	MessageID string `json:"message_id,omitempty"`

	From    string    `json:"from"`
	To      []string  `json:"to"`
	Cc      []string  `json:"cc,omitempty"`
	Subject string    `json:"subject"`
	Date    time.Time `json:"date"`
	Size    int64     `json:"size"`

	TextBody    string       `json:"text_body,omitempty"`
	HTMLBody    string       `json:"html_body,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`

	Flags Flags `json:"flags"`
}

// Clone returns a deep copy of the message so that cached values are never
// shared with callers.
func (m Message) Clone() Message {
	out := m
	if m.To != nil {
		out.To = append([]string(nil), m.To...)
	}
	if m.Cc != nil {
		out.Cc = append([]string(nil), m.Cc...)
	}
	if m.Attachments != nil {
		out.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	return out
}

// CloneMessages deep-copies a slice of messages.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// Folder describes a remote mailbox.
type Folder struct {
	// Name is the full mailbox path (e.g., "INBOX", "[Gmail]/Trash").
	Name string `json:"name"`

	// Label is the human-readable name shown in the UI.
	Label string `json:"label"`

	// Attributes holds mailbox attributes such as \Trash or \Noselect.
	Attributes []string `json:"attributes,omitempty"`

	// Count is the number of messages in the folder as reported by the
	// gateway.
	Count int `json:"count"`
}

// HasAttribute reports whether the folder carries the given attribute,
// compared case-insensitively.
func (f Folder) HasAttribute(attr string) bool {
	for _, a := range f.Attributes {
		if strings.EqualFold(a, attr) {
			return true
		}
	}
	return false
}

// Page is one page of messages plus the folder's total count at fetch time.
type Page struct {
	Folder   string    `json:"folder"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
	Total    int       `json:"total"`
	Messages []Message `json:"messages"`
	Cached   bool      `json:"cached"`
}

// HasMore reports whether pages exist beyond this one.
func (p Page) HasMore() bool {
	return p.Page*p.PageSize < p.Total
}

// FlagChange describes a flag update pushed to the remote server.
type FlagChange struct {
	Starred   *bool
	Favorited *bool
	Seen      *bool
}

// Outgoing is a message to be transmitted.
type Outgoing struct {
	To      []string
	Subject string
	Body    string
}
