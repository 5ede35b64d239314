package handler

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/nhle/mailsync/internal/gateway"
	"github.com/nhle/mailsync/internal/mailsync"
	"github.com/nhle/mailsync/internal/model"
)

// MailHandler serves folder, message and send requests.
type MailHandler struct {
	svc *mailsync.Service
}

// NewMailHandler creates a MailHandler.
func NewMailHandler(svc *mailsync.Service) *MailHandler {
	return &MailHandler{svc: svc}
}

// FolderResponse is one entry of the folder listing.
type FolderResponse struct {
	Name       string   `json:"name"`
	Label      string   `json:"label"`
	Count      int      `json:"count"`
	Attributes []string `json:"attributes,omitempty"`
}

// CountResponse is the body of a count request.
type CountResponse struct {
	Folder string `json:"folder"`
	Count  int    `json:"count"`
}

// ListFolders handles GET /folders.
func (h *MailHandler) ListFolders(c *fiber.Ctx) error {
	folders, err := h.svc.ListAvailableFolders(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}

	resp := make([]FolderResponse, len(folders))
	for i, f := range folders {
		resp[i] = FolderResponse{Name: f.Name, Label: f.Label, Count: f.Count, Attributes: f.Attributes}
	}
	return c.JSON(resp)
}

// FetchMessages handles GET /folders/:folder/messages?limit=&page=.
func (h *MailHandler) FetchMessages(c *fiber.Ctx) error {
	folder, err := param(c, "folder")
	if err != nil {
		return writeError(c, err)
	}
	limit := c.QueryInt("limit", gateway.DefaultPageSize)
	page := c.QueryInt("page", 1)

	p, err := h.svc.FetchEmails(c.UserContext(), folder, limit, page)
	if err != nil {
		return writeError(c, err)
	}
	if p.Messages == nil {
		p.Messages = []model.Message{}
	}
	return c.JSON(p)
}

// CountMessages handles GET /folders/:folder/count.
func (h *MailHandler) CountMessages(c *fiber.Ctx) error {
	folder, err := param(c, "folder")
	if err != nil {
		return writeError(c, err)
	}

	n, err := h.svc.GetFolderEmailCount(c.UserContext(), folder)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(CountResponse{Folder: folder, Count: n})
}

type softDeleteRequest struct {
	Folder string `json:"folder"`
}

// SoftDelete handles POST /messages/:id/soft-delete.
func (h *MailHandler) SoftDelete(c *fiber.Ctx) error {
	id, err := param(c, "id")
	if err != nil {
		return writeError(c, err)
	}
	var req softDeleteRequest
	if err := parseBody(c, &req); err != nil {
		return writeError(c, err)
	}

	if err := h.svc.SoftDeleteEmail(c.UserContext(), model.Message{ID: id, Folder: req.Folder}); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"id": id, "deleted": true})
}

// Undelete handles POST /messages/:id/undelete.
func (h *MailHandler) Undelete(c *fiber.Ctx) error {
	id, err := param(c, "id")
	if err != nil {
		return writeError(c, err)
	}

	if err := h.svc.UndeleteEmail(c.UserContext(), id); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"id": id, "deleted": false})
}

// Remove handles DELETE /messages/:id?folder=&action=.
func (h *MailHandler) Remove(c *fiber.Ctx) error {
	id, err := param(c, "id")
	if err != nil {
		return writeError(c, err)
	}
	action := mailsync.ParseRemoveAction(c.Query("action"))

	res, err := h.svc.RemoveMessage(c.UserContext(), id, query(c, "folder"), action)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(res)
}

type moveRequest struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Move handles POST /messages/:id/move.
func (h *MailHandler) Move(c *fiber.Ctx) error {
	id, err := param(c, "id")
	if err != nil {
		return writeError(c, err)
	}
	var req moveRequest
	if err := parseBody(c, &req); err != nil {
		return writeError(c, err)
	}

	res, err := h.svc.Move(c.UserContext(), id, req.Source, req.Target)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(res)
}

type favoriteRequest struct {
	Value bool `json:"value"`
}

// Favorite handles POST /messages/:id/favorite.
func (h *MailHandler) Favorite(c *fiber.Ctx) error {
	id, err := param(c, "id")
	if err != nil {
		return writeError(c, err)
	}
	var req favoriteRequest
	if err := parseBody(c, &req); err != nil {
		return writeError(c, err)
	}

	v, err := h.svc.ToggleFavorite(c.UserContext(), id, req.Value)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"id": id, "favorited": v})
}

// Star handles POST /messages/:id/star.
func (h *MailHandler) Star(c *fiber.Ctx) error {
	id, err := param(c, "id")
	if err != nil {
		return writeError(c, err)
	}

	v, err := h.svc.ToggleStar(c.UserContext(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"id": id, "starred": v})
}

type sendRequest struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// Send handles POST /send.
func (h *MailHandler) Send(c *fiber.Ctx) error {
	var req sendRequest
	if err := parseBody(c, &req); err != nil {
		return writeError(c, err)
	}

	d, err := h.svc.Send(c.UserContext(), req.To, req.Subject, req.Body)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"id": d.ID, "sent_at": d.SentAt})
}

// param returns the unescaped route parameter. Folder names and message
// IDs may contain '/' and must arrive percent-encoded.
func param(c *fiber.Ctx, name string) (string, error) {
	v, err := url.PathUnescape(c.Params(name))
	if err != nil {
		return "", fmt.Errorf("%w: malformed %s: %v", errBadRequest, name, err)
	}
	// Params aliases the request buffer.
	return strings.Clone(v), nil
}

// query returns a copy of the query value name, safe to keep past the
// request.
func query(c *fiber.Ctx, name string) string {
	return strings.Clone(c.Query(name))
}

// parseBody decodes a JSON body. An empty body leaves out untouched.
func parseBody(c *fiber.Ctx, out any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(out); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}
