// Package folders is the folder picker view.
package folders

import (
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/mailsync/internal/keys"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/theme"
)

// SelectedMsg is sent when the user opens a folder.
type SelectedMsg struct {
	Folder string
}

// CloseMsg is sent when the user leaves the picker without choosing.
type CloseMsg struct{}

// Item wraps a model.Folder for bubbles/list.
type Item struct {
	Folder model.Folder
}

// FilterValue returns the string used for fuzzy filtering.
func (i Item) FilterValue() string { return i.Folder.Name }

type delegate struct{}

func (delegate) Height() int  { return 1 }
func (delegate) Spacing() int { return 0 }

func (delegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

func (delegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(Item)
	if !ok {
		return
	}
	name := theme.FolderStyle(it.Folder.Attributes).Render(it.Folder.Name)
	line := fmt.Sprintf("%s %s", name, theme.DimmedStyle.Render(fmt.Sprintf("(%d)", it.Folder.Count)))

	if index == m.Index() {
		fmt.Fprint(w, theme.SelectedItemStyle.Render(line))
		return
	}
	fmt.Fprint(w, theme.ListItemStyle.Render(line))
}

// Model is the folder picker.
type Model struct {
	list list.Model
	keys *keys.KeyMap
	err  error
}

// New creates an empty folder picker.
func New(k *keys.KeyMap, width, height int) Model {
	l := list.New([]list.Item{}, delegate{}, width, height)
	l.Title = "Folders"
	l.SetShowHelp(false)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.Styles.Title = theme.HeaderStyle

	return Model{list: l, keys: k}
}

// SetFolders replaces the listed folders.
func (m *Model) SetFolders(folders []model.Folder, err error) tea.Cmd {
	m.err = err
	items := make([]list.Item, len(folders))
	for i, f := range folders {
		items[i] = Item{Folder: f}
	}
	return m.list.SetItems(items)
}

// Update handles messages for the folder picker.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if km, ok := msg.(tea.KeyMsg); ok && m.list.FilterState() != list.Filtering {
		switch {
		case key.Matches(km, m.keys.Select):
			it, ok := m.list.SelectedItem().(Item)
			if !ok {
				return m, nil
			}
			return m, func() tea.Msg { return SelectedMsg{Folder: it.Folder.Name} }

		case key.Matches(km, m.keys.Back):
			if m.list.FilterState() == list.FilterApplied {
				break
			}
			return m, func() tea.Msg { return CloseMsg{} }
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// Filtering reports whether the filter input has focus.
func (m Model) Filtering() bool {
	return m.list.FilterState() == list.Filtering
}

// View renders the picker.
func (m Model) View() string {
	if m.err != nil {
		return theme.ListItemStyle.Render(fmt.Sprintf("Could not list folders: %v", m.err))
	}
	return m.list.View()
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.list.SetSize(width, height)
}
