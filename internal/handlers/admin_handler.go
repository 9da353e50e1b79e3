package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/iGETsense/Devil-POOl-sub000/internal/services"
	"github.com/iGETsense/Devil-POOl-sub000/models"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type AdminHandler struct {
	reconcile    *services.ReconcileService
	bookings     *services.BookingService
	transactions *services.TransactionService
	stats        *services.StatsService
	sync         *services.SyncJob
	audit        services.AuditRecorder
}

func NewAdminHandler(reconcile *services.ReconcileService, bookings *services.BookingService, transactions *services.TransactionService, stats *services.StatsService, sync *services.SyncJob, audit services.AuditRecorder) *AdminHandler {
	return &AdminHandler{
		reconcile:    reconcile,
		bookings:     bookings,
		transactions: transactions,
		stats:        stats,
		sync:         sync,
		audit:        audit,
	}
}

// RecalculateStats - rebuild counters from the bookings and report drift
func (h *AdminHandler) RecalculateStats(e *core.RequestEvent) error {
	if err := requireAdmin(e); err != nil {
		return err
	}
	ctx := e.Request.Context()

	report, err := h.stats.Recalculate(ctx, func(ctx context.Context) ([]*models.Booking, error) {
		return h.bookings.List(ctx, "")
	})
	if err != nil {
		return respondError(e, "AdminHandler.RecalculateStats()", err)
	}
	return e.JSON(http.StatusOK, report)
}

// ListBookings - all bookings, optionally filtered by ?status=
func (h *AdminHandler) ListBookings(e *core.RequestEvent) error {
	if err := requireAdmin(e); err != nil {
		return err
	}

	st := models.BookingStatus(e.Request.URL.Query().Get("status"))
	bookings, err := h.bookings.List(e.Request.Context(), st)
	if err != nil {
		return respondError(e, "AdminHandler.ListBookings()", err)
	}
	return e.JSON(http.StatusOK, map[string]any{
		"bookings": bookings,
		"count":    len(bookings),
	})
}

// ForcePay - mark a booking paid without gateway proof
func (h *AdminHandler) ForcePay(e *core.RequestEvent) error {
	if err := requireAdmin(e); err != nil {
		return err
	}

	var req struct {
		PIN     string `json:"pin"`
		Confirm bool   `json:"confirm"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	b, err := h.reconcile.ForcePay(e.Request.Context(), services.ForcePayRequest{
		BookingID: e.Request.PathValue("id"),
		Actor:     actorOf(e),
		PIN:       req.PIN,
		Confirm:   req.Confirm,
	})
	if err != nil {
		return respondError(e, "AdminHandler.ForcePay()", err)
	}
	return e.JSON(http.StatusOK, b)
}

// CancelBooking - cancel a PENDING or PAID booking
func (h *AdminHandler) CancelBooking(e *core.RequestEvent) error {
	if err := requireAdmin(e); err != nil {
		return err
	}

	id := e.Request.PathValue("id")
	cancelled, err := h.reconcile.CancelBooking(e.Request.Context(), id, actorOf(e))
	if err != nil {
		return respondError(e, "AdminHandler.CancelBooking()", err)
	}
	return e.JSON(http.StatusOK, map[string]any{
		"bookingId": id,
		"cancelled": cancelled,
	})
}

// RunSync - run the sync job now instead of waiting for the next tick
func (h *AdminHandler) RunSync(e *core.RequestEvent) error {
	if err := requireAdmin(e); err != nil {
		return err
	}

	report, err := h.sync.Run(e.Request.Context())
	if err != nil {
		return respondError(e, "AdminHandler.RunSync()", err)
	}
	return e.JSON(http.StatusOK, report)
}

// ListUnresolved - captured payments that produced no ticket
func (h *AdminHandler) ListUnresolved(e *core.RequestEvent) error {
	if err := requireAdmin(e); err != nil {
		return err
	}

	txs, err := h.transactions.ListUnresolved(e.Request.Context())
	if err != nil {
		return respondError(e, "AdminHandler.ListUnresolved()", err)
	}
	return e.JSON(http.StatusOK, map[string]any{
		"transactions": txs,
		"count":        len(txs),
	})
}

// GetAuditLog - most recent audit entries, ?limit= defaults to 100
func (h *AdminHandler) GetAuditLog(e *core.RequestEvent) error {
	if err := requireAdmin(e); err != nil {
		return err
	}

	limit := 100
	if v := e.Request.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return apis.NewBadRequestError("limit must be a positive integer", nil)
		}
		limit = n
	}

	entries, err := h.audit.Recent(e.Request.Context(), limit)
	if err != nil {
		return respondError(e, "AdminHandler.GetAuditLog()", err)
	}
	return e.JSON(http.StatusOK, map[string]any{"entries": entries})
}
