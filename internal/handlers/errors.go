package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/iGETsense/Devil-POOl-sub000/internal/services"
	"github.com/iGETsense/Devil-POOl-sub000/internal/status"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

// respondError turns a service error into the JSON response the clients
// expect. Anything unrecognised is logged and hidden behind a generic 500.
func respondError(e *core.RequestEvent, op string, err error) error {
	var (
		validation *status.ValidationError
		gw         *status.GatewayError
		used       *status.AlreadyUsedError
		invariant  *status.InvariantViolation
	)

	switch {
	case errors.As(err, &validation):
		return e.JSON(http.StatusBadRequest, map[string]any{
			"error": validation.Message,
			"field": validation.Field,
		})
	case errors.As(err, &gw):
		code := http.StatusPaymentRequired
		if gw.Temporary {
			code = http.StatusServiceUnavailable
		}
		return e.JSON(code, map[string]any{
			"error": gw.Message,
			"code":  gw.Code,
		})
	case errors.As(err, &used):
		return e.JSON(http.StatusConflict, map[string]any{
			"error":       "Ticket already used",
			"reason":      "ALREADY_USED",
			"validatedAt": used.ValidatedAt.Format(time.RFC3339),
			"validatedBy": used.ValidatedBy,
		})
	case errors.Is(err, status.ErrPaymentNotConfirmed):
		return e.JSON(http.StatusUnprocessableEntity, map[string]any{
			"error":  "Payment not confirmed",
			"reason": "PAYMENT_NOT_CONFIRMED",
		})
	case errors.Is(err, status.ErrTicketCancelled):
		return e.JSON(http.StatusUnprocessableEntity, map[string]any{
			"error":  "Ticket cancelled",
			"reason": "CANCELLED",
		})
	case errors.Is(err, status.ErrNotFound):
		return apis.NewNotFoundError("Not found", nil)
	case errors.Is(err, status.ErrConfirmationRequired):
		return apis.NewBadRequestError("Explicit confirmation is required", nil)
	case errors.Is(err, status.ErrOverrideDenied):
		return apis.NewForbiddenError("Override PIN rejected", nil)
	case errors.Is(err, status.ErrLocked), errors.Is(err, services.ErrSyncRunning):
		return e.JSON(http.StatusConflict, map[string]any{
			"error": "Another operation is in progress, retry shortly",
		})
	case errors.As(err, &invariant):
		slog.Error(op, "invariant", invariant.Op, "detail", invariant.Detail)
		return apis.NewInternalServerError("Internal error", nil)
	}

	slog.Error(op, "error", err)
	return apis.NewInternalServerError("Internal error", nil)
}

// requireAdmin accepts superusers and records of the admins collection.
func requireAdmin(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Admin access required", nil)
	}
	if e.Auth.IsSuperuser() || e.Auth.Collection().Name == "admins" {
		return nil
	}
	return apis.NewUnauthorizedError("Admin access required", nil)
}

func actorOf(e *core.RequestEvent) string {
	if e.Auth == nil {
		return ""
	}
	if email := e.Auth.Email(); email != "" {
		return email
	}
	return e.Auth.Id
}
