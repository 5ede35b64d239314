package handler

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/nhle/mailsync/internal/gateway"
	"github.com/nhle/mailsync/internal/mailsync"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Folder  string `json:"folder,omitempty"`
	Page    int    `json:"page,omitempty"`
	Step    string `json:"step,omitempty"`
}

// errBadRequest marks request decoding failures.
var errBadRequest = errors.New("bad request")

// statusFor maps an engine error onto an HTTP status and a short label.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, mailsync.ErrInvalidInput):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, gateway.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, gateway.ErrTimeout):
		return http.StatusGatewayTimeout, "gateway timeout"
	case errors.Is(err, gateway.ErrUnavailable):
		return http.StatusServiceUnavailable, "gateway unavailable"
	case errors.Is(err, gateway.ErrProtocol):
		return http.StatusBadGateway, "protocol error"
	case errors.Is(err, gateway.ErrDeliveryConfig):
		return http.StatusUnprocessableEntity, "delivery configuration error"
	case errors.Is(err, gateway.ErrDelivery):
		return http.StatusServiceUnavailable, "delivery error"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// writeError renders err with the request coordinates carried by engine
// errors.
func writeError(c *fiber.Ctx, err error) error {
	status, label := statusFor(err)
	resp := ErrorResponse{Error: label, Details: err.Error()}

	var re *mailsync.ReadError
	if errors.As(err, &re) {
		resp.Folder = re.Folder
		resp.Page = re.Page
	}
	var se *mailsync.StepError
	if errors.As(err, &se) {
		resp.Folder = se.Folder
		resp.Step = se.Step
	}

	return c.Status(status).JSON(resp)
}
