package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/iGETsense/Devil-POOl-sub000/internal/services"
	"github.com/iGETsense/Devil-POOl-sub000/internal/services/gateway"
	"github.com/iGETsense/Devil-POOl-sub000/models"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type PaymentHandler struct {
	reconcile    *services.ReconcileService
	transactions *services.TransactionService
	bookings     *services.BookingService

	// sandbox is only set when running against the local gateway.
	sandbox *gateway.Sandbox
}

func NewPaymentHandler(reconcile *services.ReconcileService, transactions *services.TransactionService, bookings *services.BookingService, sandbox *gateway.Sandbox) *PaymentHandler {
	return &PaymentHandler{
		reconcile:    reconcile,
		transactions: transactions,
		bookings:     bookings,
		sandbox:      sandbox,
	}
}

// Collect - start a strict-mode purchase
func (h *PaymentHandler) Collect(e *core.RequestEvent) error {
	var req services.CollectRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	tx, settlement, err := h.reconcile.Collect(e.Request.Context(), req)
	if err != nil {
		return respondError(e, "PaymentHandler.Collect()", err)
	}

	code := http.StatusAccepted
	if settlement != nil {
		code = http.StatusCreated
	}
	return e.JSON(code, map[string]any{
		"transactionId": tx.ID,
		"reference":     tx.BookingID,
		"amount":        tx.Amount,
		"status":        tx.Status,
		"settlement":    settlement,
	})
}

// Webhook - gateway callback. Signature is checked by middleware.
func (h *PaymentHandler) Webhook(e *core.RequestEvent) error {
	raw, err := io.ReadAll(e.Request.Body)
	if err != nil {
		return apis.NewBadRequestError("Failed to read body", nil)
	}
	var payload services.WebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return apis.NewBadRequestError("Invalid payload", err)
	}

	settlement, err := h.reconcile.HandleWebhook(e.Request.Context(), payload, raw)
	if err != nil {
		return respondError(e, "PaymentHandler.Webhook()", err)
	}
	return e.JSON(http.StatusOK, settlement)
}

// GetTransaction - transaction and the bookings it produced
func (h *PaymentHandler) GetTransaction(e *core.RequestEvent) error {
	ctx := e.Request.Context()
	txID := e.Request.PathValue("txId")

	tx, err := h.transactions.Get(ctx, txID)
	if err != nil {
		return respondError(e, "PaymentHandler.GetTransaction()", err)
	}
	bookings, err := h.bookings.ByTransaction(ctx, txID)
	if err != nil {
		return respondError(e, "PaymentHandler.GetTransaction()", err)
	}

	return e.JSON(http.StatusOK, map[string]any{
		"transactionId":    tx.ID,
		"reference":        tx.BookingID,
		"amount":           tx.Amount,
		"provider":         tx.Provider,
		"status":           tx.Status,
		"unresolved":       tx.Unresolved,
		"unresolvedReason": tx.UnresolvedReason,
		"updatedAt":        tx.UpdatedAt,
		"bookings":         bookings,
	})
}

// PayBooking - request mobile payment for an existing PENDING booking
func (h *PaymentHandler) PayBooking(e *core.RequestEvent) error {
	var req struct {
		Payer string `json:"payer"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	tx, settlement, err := h.reconcile.PayBooking(e.Request.Context(), e.Request.PathValue("id"), req.Payer)
	if err != nil {
		return respondError(e, "PaymentHandler.PayBooking()", err)
	}
	return e.JSON(http.StatusAccepted, map[string]any{
		"transactionId": tx.ID,
		"status":        tx.Status,
		"settlement":    settlement,
	})
}

// SimulateWebhook - development only: resolve a sandbox payment and deliver
// the callback as the provider would.
func (h *PaymentHandler) SimulateWebhook(e *core.RequestEvent) error {
	if h.sandbox == nil {
		return apis.NewNotFoundError("Sandbox gateway is not enabled", nil)
	}

	var req struct {
		TransactionID string `json:"transactionId"`
		Status        string `json:"status"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	st := gateway.NormalizeStatus(req.Status)
	if st == models.TransactionPending {
		return apis.NewBadRequestError("Status must be SUCCESS or FAILED", nil)
	}
	if err := h.sandbox.Resolve(req.TransactionID, st); err != nil {
		return respondError(e, "PaymentHandler.SimulateWebhook()", err)
	}

	payload := services.WebhookPayload{ProviderTxID: req.TransactionID, Status: string(st)}
	raw, _ := json.Marshal(payload)
	settlement, err := h.reconcile.HandleWebhook(e.Request.Context(), payload, raw)
	if err != nil {
		return respondError(e, "PaymentHandler.SimulateWebhook()", err)
	}
	return e.JSON(http.StatusOK, settlement)
}
