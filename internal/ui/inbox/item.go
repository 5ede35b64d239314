package inbox

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/theme"
)

// Item wraps a model.Message for bubbles/list.
type Item struct {
	Message model.Message
}

// FilterValue returns the string used for fuzzy filtering.
func (i Item) FilterValue() string { return i.Message.Subject + " " + i.Message.From }

// delegate draws one message per line: flags, sender, subject, date.
type delegate struct {
	now func() time.Time
}

func (d delegate) Height() int  { return 1 }
func (d delegate) Spacing() int { return 0 }

func (d delegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

func (d delegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(Item)
	if !ok {
		return
	}
	msg := it.Message
	width := m.Width()

	marks := theme.FlagMarks(msg.Flags.Starred, msg.Flags.Favorited)
	from := truncate(displayName(msg.From), 20)
	date := relativeTime(msg.Date, d.now())

	subject := msg.Subject
	if subject == "" {
		subject = "(no subject)"
	}
	avail := width - 2 - 22 - 10 - 4
	subject = truncate(subject, max(avail, 10))

	fromCol := lipgloss.NewStyle().Width(22).Render(theme.DimmedStyle.Render(from))
	subjectStyle := lipgloss.NewStyle()
	if !msg.Flags.Seen {
		subjectStyle = theme.UnreadStyle
	}
	line := fmt.Sprintf("%s %s %s  %s", marks, fromCol, subjectStyle.Render(subject), theme.DimmedStyle.Render(date))

	if index == m.Index() {
		fmt.Fprint(w, theme.SelectedItemStyle.Render(line))
		return
	}
	fmt.Fprint(w, theme.ListItemStyle.Render(line))
}

// displayName returns the name part of "Name <addr>", or the address.
func displayName(from string) string {
	if i := strings.Index(from, "<"); i > 0 {
		return strings.TrimSpace(from[:i])
	}
	return strings.Trim(from, "<> ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 {
		return ""
	}
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

func relativeTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case t.Year() == now.Year():
		return t.Format("Jan 2")
	default:
		return t.Format("2006-01-02")
	}
}
