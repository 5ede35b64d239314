package app

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/mailsync/internal/mailsync"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/ui/inbox"
)

// cmdTimeout bounds a single engine call issued from the UI.
const cmdTimeout = time.Minute

type pageLoadedMsg struct {
	page model.Page
	err  error
}

type foldersLoadedMsg struct {
	folders []model.Folder
	err     error
}

// actionDoneMsg reports the outcome of a user action on message, whose
// flags reflect the new state.
type actionDoneMsg struct {
	action  inbox.Action
	message model.Message
	text    string
	err     error
}

type cachesClearedMsg struct {
	err error
}

func emptyPage(folder string) model.Page {
	return model.Page{Folder: folder, Page: 1}
}

// reload refetches the page currently shown.
func (m Model) reload() tea.Cmd {
	page := max(m.inbox.Page().Page, 1)
	return m.loadPage(m.folder, page)
}

func (m Model) loadPage(folder string, page int) tea.Cmd {
	svc, size := m.svc, m.pageSize
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
		defer cancel()

		p, err := svc.FetchEmails(ctx, folder, size, page)
		return pageLoadedMsg{page: p, err: err}
	}
}

func (m Model) loadFolders() tea.Cmd {
	svc := m.svc
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
		defer cancel()

		f, err := svc.ListAvailableFolders(ctx)
		return foldersLoadedMsg{folders: f, err: err}
	}
}

func (m Model) runAction(a inbox.Action, msg model.Message) tea.Cmd {
	svc := m.svc
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
		defer cancel()

		done := actionDoneMsg{action: a, message: msg}
		switch a {
		case inbox.ActionStar:
			starred, err := svc.ToggleStar(ctx, msg.ID)
			done.message.Flags.Starred = starred
			done.err = err
			done.text = "unstarred"
			if starred {
				done.text = "starred"
			}

		case inbox.ActionFavorite:
			fav, err := svc.ToggleFavorite(ctx, msg.ID, !msg.Flags.Favorited)
			done.message.Flags.Favorited = fav
			done.err = err
			done.text = "removed from favorites"
			if fav {
				done.text = "added to favorites"
			}

		case inbox.ActionHide:
			_, done.err = svc.RemoveMessage(ctx, msg.ID, msg.Folder, mailsync.ActionOverlayHide)
			done.text = "message hidden"

		case inbox.ActionTrash:
			res, err := svc.RemoveMessage(ctx, msg.ID, msg.Folder, mailsync.ActionRelocate)
			done.err = err
			done.text = fmt.Sprintf("moved to %s", res.To)

		default:
			done.err = fmt.Errorf("unknown action %v", a)
		}
		return done
	}
}

func (m Model) clearCaches() tea.Cmd {
	svc := m.svc
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
		defer cancel()

		return cachesClearedMsg{err: svc.ClearAllCaches(ctx)}
	}
}
