package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessageID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		want    MessageRef
		wantErr bool
	}{
		{
			name: "inbox",
			id:   "imap:INBOX:42",
			want: MessageRef{Origin: OriginIMAP, Folder: "INBOX", UID: "42"},
		},
		{
			name: "folder with separator",
			id:   "imap:Archive:2024:7",
			want: MessageRef{Origin: OriginIMAP, Folder: "Archive:2024", UID: "7"},
		},
		{
			name: "gmail path",
			id:   "imap:[Gmail]/Trash:9",
			want: MessageRef{Origin: OriginIMAP, Folder: "[Gmail]/Trash", UID: "9"},
		},
		{name: "no origin", id: "INBOX", wantErr: true},
		{name: "no uid", id: "imap:INBOX:", wantErr: true},
		{name: "no folder", id: "imap::5", wantErr: true},
		{name: "empty", id: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMessageID(tt.id)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.id, got.String())
		})
	}
}

func TestMessageCloneIsolatesSlices(t *testing.T) {
	orig := Message{ID: "test:INBOX:1", To: []string{"a@example.com"}}
	cp := orig.Clone()
	cp.To[0] = "b@example.com"

	assert.Equal(t, "a@example.com", orig.To[0])
}

func TestPageHasMore(t *testing.T) {
	assert.True(t, Page{Page: 2, PageSize: 10, Total: 25}.HasMore())
	assert.False(t, Page{Page: 3, PageSize: 10, Total: 25}.HasMore())
	assert.False(t, Page{Page: 4, PageSize: 10, Total: 25}.HasMore())
}
