// Package inbox is the paged message list view.
package inbox

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailsync/internal/keys"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/theme"
)

// Action is a user mutation on one message.
type Action int

const (
	ActionStar Action = iota
	ActionFavorite
	ActionHide
	ActionTrash
)

func (a Action) String() string {
	switch a {
	case ActionStar:
		return "star"
	case ActionFavorite:
		return "favorite"
	case ActionHide:
		return "hide"
	case ActionTrash:
		return "trash"
	default:
		return "unknown"
	}
}

// ActionMsg asks the parent to apply Action to Message.
type ActionMsg struct {
	Action  Action
	Message model.Message
}

// OpenMsg is sent when the user opens a message.
type OpenMsg struct {
	Message model.Message
}

// PageMsg asks the parent to load another page of Folder.
type PageMsg struct {
	Folder string
	Page   int
}

// Model is the message list for one folder page.
type Model struct {
	list    list.Model
	keys    *keys.KeyMap
	page    model.Page
	loading bool
	width   int
	height  int
}

// New creates an empty message list.
func New(k *keys.KeyMap, width, height int) Model {
	l := list.New([]list.Item{}, delegate{now: time.Now}, width, height-1)
	l.SetShowTitle(false)
	l.SetShowHelp(false)
	l.SetShowStatusBar(false)
	l.SetShowPagination(false)
	l.SetFilteringEnabled(false)

	return Model{list: l, keys: k, width: width, height: height}
}

// SetPage replaces the shown page, keeping the cursor in range.
func (m *Model) SetPage(p model.Page) tea.Cmd {
	m.page = p
	m.loading = false

	idx := m.list.Index()
	items := make([]list.Item, len(p.Messages))
	for i, msg := range p.Messages {
		items[i] = Item{Message: msg}
	}
	cmd := m.list.SetItems(items)
	if idx >= len(items) {
		idx = len(items) - 1
	}
	if idx >= 0 {
		m.list.Select(idx)
	}
	return cmd
}

// SetLoading marks the list as waiting for a page.
func (m *Model) SetLoading(v bool) {
	m.loading = v
}

// Page returns the shown page.
func (m Model) Page() model.Page {
	return m.page
}

// Selected returns the message under the cursor.
func (m Model) Selected() (model.Message, bool) {
	it, ok := m.list.SelectedItem().(Item)
	if !ok {
		return model.Message{}, false
	}
	return it.Message, true
}

// Update handles messages for the list.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	km, ok := msg.(tea.KeyMsg)
	if !ok {
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(km, m.keys.NextPage):
		if m.page.HasMore() {
			return m, m.requestPage(m.page.Page + 1)
		}
		return m, nil

	case key.Matches(km, m.keys.PrevPage):
		if m.page.Page > 1 {
			return m, m.requestPage(m.page.Page - 1)
		}
		return m, nil
	}

	sel, ok := m.Selected()
	if !ok {
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(km, m.keys.Select):
		return m, func() tea.Msg { return OpenMsg{Message: sel} }
	case key.Matches(km, m.keys.Star):
		return m, act(ActionStar, sel)
	case key.Matches(km, m.keys.Favorite):
		return m, act(ActionFavorite, sel)
	case key.Matches(km, m.keys.Hide):
		return m, act(ActionHide, sel)
	case key.Matches(km, m.keys.Trash):
		return m, act(ActionTrash, sel)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) requestPage(page int) tea.Cmd {
	folder := m.page.Folder
	return func() tea.Msg { return PageMsg{Folder: folder, Page: page} }
}

func act(a Action, msg model.Message) tea.Cmd {
	return func() tea.Msg { return ActionMsg{Action: a, Message: msg} }
}

// View renders the list and a pager line.
func (m Model) View() string {
	if m.loading && len(m.list.Items()) == 0 {
		return m.centered("Loading…")
	}
	if len(m.list.Items()) == 0 {
		if m.page.Total > 0 {
			return m.centered(fmt.Sprintf("Page %d is past the end (%d messages).", m.page.Page, m.page.Total))
		}
		return m.centered("No messages.")
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.list.View(), m.pager())
}

func (m Model) pager() string {
	size := max(m.page.PageSize, 1)
	pages := max((m.page.Total+size-1)/size, 1)

	text := fmt.Sprintf("page %d/%d · %d messages", m.page.Page, pages, m.page.Total)
	if m.page.Cached {
		text += " · cached"
	}
	if m.loading {
		text += " · loading"
	}
	return theme.HelpStyle.PaddingLeft(2).Render(text)
}

func (m Model) centered(s string) string {
	return lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray).
		Render(s)
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, max(height-1, 0))
}
