// Package detail shows one message in a scrollable viewport.
package detail

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailsync/internal/keys"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/theme"
	"github.com/nhle/mailsync/internal/ui/inbox"
)

// BackMsg signals the parent to navigate back to the list view.
type BackMsg struct{}

// Model is the message detail view.
type Model struct {
	msg      *model.Message
	viewport viewport.Model
	keys     *keys.KeyMap
	width    int
	height   int
}

// New creates a new detail view model.
func New(keys *keys.KeyMap, width, height int) Model {
	vp := viewport.New(width, height)
	vp.Style = lipgloss.NewStyle()

	return Model{
		viewport: vp,
		keys:     keys,
		width:    width,
		height:   height,
	}
}

// Update handles messages for the detail view. Action keys are reported
// as inbox.ActionMsg so the parent handles them the same way as from the
// list.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if km, ok := msg.(tea.KeyMsg); ok {
		if key.Matches(km, m.keys.Back) {
			return m, func() tea.Msg { return BackMsg{} }
		}

		if m.msg != nil {
			cur := *m.msg
			var a inbox.Action = -1
			switch {
			case key.Matches(km, m.keys.Star):
				a = inbox.ActionStar
			case key.Matches(km, m.keys.Favorite):
				a = inbox.ActionFavorite
			case key.Matches(km, m.keys.Hide):
				a = inbox.ActionHide
			case key.Matches(km, m.keys.Trash):
				a = inbox.ActionTrash
			}
			if a >= 0 {
				return m, func() tea.Msg { return inbox.ActionMsg{Action: a, Message: cur} }
			}
		}
	}

	// Delegate to viewport for scrolling (j/k, up/down, pgup/pgdn)
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the detail view.
func (m Model) View() string {
	if m.msg == nil {
		return lipgloss.NewStyle().
			Width(m.width).
			Height(m.height).
			Align(lipgloss.Center, lipgloss.Center).
			Foreground(theme.ColorGray).
			Render("No message selected")
	}
	return m.viewport.View()
}

// renderContent builds the full content string for the viewport.
func (m Model) renderContent() string {
	if m.msg == nil {
		return ""
	}
	msg := m.msg

	var sections []string

	subject := msg.Subject
	if subject == "" {
		subject = "(no subject)"
	}
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite)
	sections = append(sections, theme.FlagMarks(msg.Flags.Starred, msg.Flags.Favorited)+" "+titleStyle.Render(subject))
	sections = append(sections, "")

	metaStyle := lipgloss.NewStyle().Foreground(theme.ColorGray).Width(9)
	valStyle := lipgloss.NewStyle().Foreground(theme.ColorWhite)
	field := func(name, value string) {
		if value == "" {
			return
		}
		sections = append(sections, metaStyle.Render(name+":")+" "+valStyle.Render(value))
	}

	field("From", msg.From)
	field("To", strings.Join(msg.To, ", "))
	field("Cc", strings.Join(msg.Cc, ", "))
	if !msg.Date.IsZero() {
		field("Date", msg.Date.Format("Mon, 02 Jan 2006 15:04"))
	}
	field("Folder", msg.Folder)

	sep := lipgloss.NewStyle().
		Foreground(theme.ColorSubtle).
		Render(strings.Repeat("─", max(min(m.width-4, 80), 0)))
	sections = append(sections, "", sep, "")

	body := msg.TextBody
	if body == "" {
		body = lipgloss.NewStyle().
			Foreground(theme.ColorGray).
			Italic(true).
			Render("No text body")
	}
	sections = append(sections, lipgloss.NewStyle().Width(max(m.width-2, 10)).Render(body))

	if len(msg.Attachments) > 0 {
		sections = append(sections, "", sep, "")
		sections = append(sections, titleStyle.Render(fmt.Sprintf("Attachments (%d)", len(msg.Attachments))))
		for _, a := range msg.Attachments {
			sections = append(sections, fmt.Sprintf("  %s  %s", a.Filename, theme.DimmedStyle.Render(fmt.Sprintf("%s, %d bytes", a.MIMEType, a.Size))))
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// SetMessage updates the message being displayed.
func (m *Model) SetMessage(msg model.Message) {
	m.msg = &msg
	m.viewport.SetContent(m.renderContent())
	m.viewport.GotoTop()
}

// Message returns the shown message.
func (m Model) Message() (model.Message, bool) {
	if m.msg == nil {
		return model.Message{}, false
	}
	return *m.msg, true
}

// Refresh re-renders after the shown message's flags changed.
func (m *Model) Refresh(msg model.Message) {
	if m.msg == nil || m.msg.ID != msg.ID {
		return
	}
	m.msg = &msg
	m.viewport.SetContent(m.renderContent())
}

// SetSize updates the detail view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = height
	if m.msg != nil {
		m.viewport.SetContent(m.renderContent())
	}
}
