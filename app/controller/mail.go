package controller

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mailpool/relay/app/attachment"
	"github.com/mailpool/relay/app/dispatch"
	"github.com/mailpool/relay/app/dto"
	"github.com/mailpool/relay/app/message"
	"github.com/mailpool/relay/app/service"
)

type MailController struct {
	relay *service.RelayService
}

// NewMailController constructs the HTTP mail controller.
func NewMailController(relay *service.RelayService) *MailController {
	return &MailController{relay: relay}
}

// Send validates and relays a single message.
func (c *MailController) Send(ctx echo.Context) error {
	req, err := dto.FromEchoContext(ctx)
	if err != nil {
		return errorJSON(ctx, http.StatusBadRequest, "invalid request body", err)
	}
	if err := req.Validate(); err != nil {
		return errorJSON(ctx, http.StatusBadRequest, "validation failed", err)
	}

	res, err := c.relay.SendOne(ctx.Request().Context(), req)
	if err != nil {
		return sendError(ctx, err)
	}

	return ctx.JSON(http.StatusOK, map[string]string{
		"message":   "email sent",
		"recipient": req.To,
		"sender":    res.Sender,
		"id":        res.MessageID,
	})
}

// SendBatch validates and relays a batch; each message resolves to its own
// outcome and the response always carries the full summary.
func (c *MailController) SendBatch(ctx echo.Context) error {
	req, err := dto.BatchFromEchoContext(ctx)
	if err != nil {
		return errorJSON(ctx, http.StatusBadRequest, "invalid request body", err)
	}
	if err := req.Validate(); err != nil {
		return errorJSON(ctx, http.StatusBadRequest, "validation failed", err)
	}

	items, summary := c.relay.SendBatch(ctx.Request().Context(), req.Messages)

	return ctx.JSON(http.StatusOK, map[string]any{
		"message": "batch processed",
		"summary": summary,
		"results": items,
	})
}

// Accounts reports per-account pool status so operators can tell quota
// exhaustion apart from recipient-side failures. Audit-log totals are
// included when a counting recorder is configured.
func (c *MailController) Accounts(ctx echo.Context) error {
	payload := map[string]any{
		"accounts": c.relay.PoolStatus(),
	}
	if totals := c.relay.DeliveryTotals(ctx.Request().Context()); totals != nil {
		payload["deliveries"] = totals
	}
	return ctx.JSON(http.StatusOK, payload)
}

// sendError maps relay failures onto HTTP statuses.
func sendError(ctx echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrDuplicateRequest):
		return errorJSON(ctx, http.StatusConflict, "duplicate request_id", err)
	case errors.Is(err, attachment.ErrTooLarge):
		return errorJSON(ctx, http.StatusRequestEntityTooLarge, "attachment too large", err)
	case errors.Is(err, attachment.ErrInvalidBase64), errors.Is(err, attachment.ErrEmpty),
		errors.Is(err, message.ErrInvalidRecipient):
		return errorJSON(ctx, http.StatusBadRequest, "validation failed", err)
	}

	var derr *dispatch.DeliveryError
	if errors.As(err, &derr) {
		status := http.StatusBadGateway
		if errors.Is(err, dispatch.ErrPoolExhausted) {
			status = http.StatusServiceUnavailable
		}
		return errorJSON(ctx, status, string(derr.Class.Reason), err)
	}

	return errorJSON(ctx, http.StatusInternalServerError, "send failed", err)
}

func errorJSON(ctx echo.Context, status int, msg string, err error) error {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return ctx.JSON(status, map[string]string{
		"error":  msg,
		"detail": detail,
	})
}
