package app

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/nhle/mailsync/internal/keys"
	"github.com/nhle/mailsync/internal/mailsync"
	appsync "github.com/nhle/mailsync/internal/sync"
	"github.com/nhle/mailsync/internal/ui"
	"github.com/nhle/mailsync/internal/ui/detail"
	"github.com/nhle/mailsync/internal/ui/folders"
	helpview "github.com/nhle/mailsync/internal/ui/help"
	"github.com/nhle/mailsync/internal/ui/inbox"
	"github.com/nhle/mailsync/internal/ui/login"
)

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewInbox ViewState = iota
	ViewFolders
	ViewDetail
	ViewHelp
	ViewConfirmClear
)

// Model is the root Bubble Tea model that manages view routing, layout,
// and access to the engine.
type Model struct {
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	svc          *mailsync.Service
	reconciler   *appsync.Reconciler
	keys         *keys.KeyMap
	inbox        inbox.Model
	folders      folders.Model
	detail       detail.Model
	helpView     helpview.Model
	confirm      *huh.Form
	confirmed    *bool
	folder       string
	pageSize     int
	status       string
	statusErr    bool
	ready        bool
}

// New creates the root model showing folder, pageSize messages at a time.
func New(svc *mailsync.Service, r *appsync.Reconciler, folder string, pageSize int) Model {
	k := keys.DefaultKeyMap()
	if folder == "" {
		folder = "INBOX"
	}
	if pageSize < 1 {
		pageSize = 20
	}

	return Model{
		currentView: ViewInbox,
		svc:         svc,
		reconciler:  r,
		keys:        k,
		inbox:       inbox.New(k, 80, 24),
		folders:     folders.New(k, 80, 24),
		detail:      detail.New(k, 80, 24),
		helpView:    helpview.New(k, 80, 24),
		folder:      folder,
		pageSize:    pageSize,
	}
}

// Init loads the first page and the folder list and starts reconciling.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.loadPage(m.folder, 1),
		m.loadFolders(),
		m.reconciler.Start(),
	)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		w, h := m.layout.ContentWidth(), m.layout.ContentHeight()
		m.inbox.SetSize(w, h)
		m.folders.SetSize(w, h)
		m.detail.SetSize(w, h)
		m.helpView.SetSize(w, h)
		// Forward to active view so huh forms can calculate their layout.
		return m.updateActiveView(msg)

	case pageLoadedMsg:
		if msg.err != nil {
			m.inbox.SetLoading(false)
			m.setError(msg.err)
			return m, nil
		}
		if msg.page.Folder != m.folder {
			return m, nil
		}
		return m, m.inbox.SetPage(msg.page)

	case foldersLoadedMsg:
		if msg.err != nil {
			m.setError(msg.err)
		}
		return m, m.folders.SetFolders(msg.folders, msg.err)

	case actionDoneMsg:
		if msg.err != nil {
			m.setError(msg.err)
			return m, nil
		}
		m.setStatus(msg.text)
		switch msg.action {
		case inbox.ActionHide, inbox.ActionTrash:
			if m.currentView == ViewDetail {
				m.currentView = ViewInbox
			}
		default:
			m.detail.Refresh(msg.message)
		}
		return m, m.reload()

	case cachesClearedMsg:
		if msg.err != nil {
			m.setError(msg.err)
			return m, nil
		}
		m.setStatus("caches cleared")
		return m, tea.Batch(m.reload(), m.loadFolders())

	case appsync.ResultMsg:
		wait := m.reconciler.WaitForNextResult()
		if msg.Error != nil {
			m.setError(fmt.Errorf("cleanup: %w", msg.Error))
			return m, wait
		}
		if msg.Removed == 0 {
			return m, wait
		}
		m.setStatus(fmt.Sprintf("%d stale entries removed", msg.Removed))
		return m, tea.Batch(wait, m.reload())

	case inbox.PageMsg:
		m.inbox.SetLoading(true)
		return m, m.loadPage(msg.Folder, msg.Page)

	case inbox.OpenMsg:
		m.previousView = m.currentView
		m.currentView = ViewDetail
		m.detail.SetMessage(msg.Message)
		return m, nil

	case inbox.ActionMsg:
		return m, m.runAction(msg.Action, msg.Message)

	case folders.SelectedMsg:
		m.folder = msg.Folder
		m.currentView = ViewInbox
		m.inbox.SetLoading(true)
		return m, tea.Batch(m.inbox.SetPage(emptyPage(msg.Folder)), m.loadPage(msg.Folder, 1))

	case folders.CloseMsg:
		m.currentView = ViewInbox
		return m, nil

	case detail.BackMsg:
		m.currentView = ViewInbox
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.reconciler.Stop()
			return m, tea.Quit
		}
		// The confirm form and the folder filter own the keyboard while open.
		if m.currentView == ViewConfirmClear || (m.currentView == ViewFolders && m.folders.Filtering()) {
			return m.updateActiveView(msg)
		}

		switch {
		case key.Matches(msg, m.keys.Help):
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
				return m, nil
			}
			m.previousView = m.currentView
			m.currentView = ViewHelp
			return m, nil

		case m.currentView == ViewHelp && key.Matches(msg, m.keys.Back):
			m.currentView = m.previousView
			return m, nil
		}

		if m.currentView == ViewInbox {
			switch {
			case key.Matches(msg, m.keys.Quit):
				m.reconciler.Stop()
				return m, tea.Quit

			case key.Matches(msg, m.keys.Folders):
				m.previousView = m.currentView
				m.currentView = ViewFolders
				return m, m.loadFolders()

			case key.Matches(msg, m.keys.Refresh):
				m.inbox.SetLoading(true)
				return m, m.reload()

			case key.Matches(msg, m.keys.Cleanup):
				m.setStatus("cleanup requested")
				return m, m.reconciler.Trigger()

			case key.Matches(msg, m.keys.ClearCache):
				m.previousView = m.currentView
				m.currentView = ViewConfirmClear
				m.confirmed = new(bool)
				m.confirm = login.NewClearConfirm(m.confirmed)
				return m, m.confirm.Init()
			}
		}
	}

	// Delegate to active sub-view
	return m.updateActiveView(msg)
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewInbox:
		m.inbox, cmd = m.inbox.Update(msg)
	case ViewFolders:
		m.folders, cmd = m.folders.Update(msg)
	case ViewDetail:
		m.detail, cmd = m.detail.Update(msg)
	case ViewConfirmClear:
		return m.updateConfirm(msg)
	}

	return m, cmd
}

func (m Model) updateConfirm(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.confirm == nil {
		m.currentView = ViewInbox
		return m, nil
	}

	model, cmd := m.confirm.Update(msg)
	if f, ok := model.(*huh.Form); ok {
		m.confirm = f
	}

	switch m.confirm.State {
	case huh.StateCompleted:
		m.currentView = m.previousView
		ok := *m.confirmed
		m.confirm = nil
		if ok {
			return m, m.clearCaches()
		}
		return m, nil
	case huh.StateAborted:
		m.currentView = m.previousView
		m.confirm = nil
		return m, nil
	}
	return m, cmd
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := m.layout.RenderHeader("mailsync · "+m.folder, m.reconcileStatus())
	statusBar := m.layout.RenderStatusBar(m.keyHints(), m.status, m.statusErr)
	return m.layout.RenderWithFrame(header, m.renderContent(), statusBar)
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewInbox:
		return m.inbox.View()
	case ViewFolders:
		return m.folders.View()
	case ViewDetail:
		return m.detail.View()
	case ViewHelp:
		return m.helpView.View()
	case ViewConfirmClear:
		if m.confirm != nil {
			return m.confirm.View()
		}
	}
	return ""
}

// reconcileStatus returns a short string describing the reconciler.
func (m Model) reconcileStatus() string {
	st := m.reconciler.Status()
	switch st.State {
	case appsync.StateRunning:
		return "reconciling"
	case appsync.StateError:
		return "⚠ reconcile failed"
	}
	if st.LastRun.IsZero() {
		return "idle"
	}
	return "cleaned " + st.LastRun.Format(time.Kitchen)
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	switch m.currentView {
	case ViewHelp:
		return "? close help | esc back"
	case ViewFolders:
		return "enter open | / filter | esc back"
	case ViewDetail:
		return "esc back | s star | v favorite | d hide | D trash | j/k scroll"
	case ViewConfirmClear:
		return "enter confirm | esc cancel"
	default:
		return "q quit | ? help | f folders | n/p page | s star | d hide | D trash"
	}
}

func (m *Model) setStatus(s string) {
	m.status = s
	m.statusErr = false
}

func (m *Model) setError(err error) {
	m.status = err.Error()
	m.statusErr = true
}
