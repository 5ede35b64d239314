package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/nhle/mailsync/internal/mailsync"
	"github.com/nhle/mailsync/internal/overlay"
)

// AdminHandler serves cache control and diagnostics.
type AdminHandler struct {
	svc *mailsync.Service
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(svc *mailsync.Service) *AdminHandler {
	return &AdminHandler{svc: svc}
}

// Cleanup handles POST /admin/cleanup.
func (h *AdminHandler) Cleanup(c *fiber.Ctx) error {
	n, err := h.svc.CleanupStaleDeleted(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"removed": n})
}

// ClearCaches handles POST /admin/clear-caches.
func (h *AdminHandler) ClearCaches(c *fiber.Ctx) error {
	if err := h.svc.ClearAllCaches(c.UserContext()); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"success": true})
}

// Deleted handles GET /admin/deleted.
func (h *AdminHandler) Deleted(c *fiber.Ctx) error {
	recs := h.svc.ListDeleted()
	if recs == nil {
		recs = []overlay.Record{}
	}
	return c.JSON(recs)
}

// TestConnection handles GET /admin/test-connection.
func (h *AdminHandler) TestConnection(c *fiber.Ctx) error {
	status := h.svc.TestConnection(c.UserContext())
	if !status.Success {
		return c.Status(fiber.StatusServiceUnavailable).JSON(status)
	}
	return c.JSON(status)
}

// Deliveries handles GET /admin/deliveries?limit=.
func (h *AdminHandler) Deliveries(c *fiber.Ctx) error {
	recs, err := h.svc.RecentDeliveries(c.UserContext(), c.QueryInt("limit", 50))
	if err != nil {
		return writeError(c, err)
	}
	if recs == nil {
		return c.JSON([]struct{}{})
	}
	return c.JSON(recs)
}
