package inbox

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsync/internal/keys"
	"github.com/nhle/mailsync/internal/model"
)

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func testPage(page, total int) model.Page {
	return model.Page{
		Folder:   "INBOX",
		Page:     page,
		PageSize: 2,
		Total:    total,
		Messages: []model.Message{
			{ID: "test:INBOX:2", Folder: "INBOX", Subject: "Second"},
			{ID: "test:INBOX:1", Folder: "INBOX", Subject: "First"},
		},
	}
}

func TestActionKeys(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 80, 20)
	m.SetPage(testPage(1, 2))

	tests := []struct {
		key  string
		want Action
	}{
		{"s", ActionStar},
		{"v", ActionFavorite},
		{"d", ActionHide},
		{"D", ActionTrash},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			_, cmd := m.Update(runes(tt.key))
			require.NotNil(t, cmd)
			msg, ok := cmd().(ActionMsg)
			require.True(t, ok)
			assert.Equal(t, tt.want, msg.Action)
			assert.Equal(t, "test:INBOX:2", msg.Message.ID)
		})
	}
}

func TestPagingKeys(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 80, 20)
	m.SetPage(testPage(1, 5))

	_, cmd := m.Update(runes("n"))
	require.NotNil(t, cmd)
	assert.Equal(t, PageMsg{Folder: "INBOX", Page: 2}, cmd())

	_, cmd = m.Update(runes("p"))
	assert.Nil(t, cmd, "no page before the first")

	m.SetPage(testPage(3, 5))
	_, cmd = m.Update(runes("n"))
	assert.Nil(t, cmd, "no page after the last")
}

func TestSetPageKeepsCursorInRange(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 80, 20)
	m.SetPage(testPage(1, 2))
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})

	p := testPage(1, 1)
	p.Messages = p.Messages[:1]
	m.SetPage(p)

	sel, ok := m.Selected()
	require.True(t, ok)
	assert.Equal(t, "test:INBOX:2", sel.ID)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 5))
	assert.Equal(t, "hel…", truncate("hello", 4))
	assert.Equal(t, "h", truncate("hello", 1))
	assert.Equal(t, "", truncate("hello", -1))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Ana Silva", displayName("Ana Silva <ana@example.com>"))
	assert.Equal(t, "ana@example.com", displayName("<ana@example.com>"))
	assert.Equal(t, "ana@example.com", displayName("ana@example.com"))
}

func TestRelativeTime(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "", relativeTime(time.Time{}, now))
	assert.Equal(t, "just now", relativeTime(now.Add(-10*time.Second), now))
	assert.Equal(t, "5m ago", relativeTime(now.Add(-5*time.Minute), now))
	assert.Equal(t, "3h ago", relativeTime(now.Add(-3*time.Hour), now))
	assert.Equal(t, "Jun 1", relativeTime(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), now))
	assert.Equal(t, "2023-12-31", relativeTime(time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), now))
}
