package handlers

import (
	"net/http"

	"github.com/iGETsense/Devil-POOl-sub000/internal/services"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type FinanceHandler struct {
	stats   *services.StatsService
	finance *services.FinanceService
}

func NewFinanceHandler(stats *services.StatsService, finance *services.FinanceService) *FinanceHandler {
	return &FinanceHandler{stats: stats, finance: finance}
}

// GetStats - incremental dashboard counters
func (h *FinanceHandler) GetStats(e *core.RequestEvent) error {
	st, err := h.stats.Current(e.Request.Context())
	if err != nil {
		return respondError(e, "FinanceHandler.GetStats()", err)
	}
	return e.JSON(http.StatusOK, st)
}

// GetBalance - funds held by the gateway per provider
func (h *FinanceHandler) GetBalance(e *core.RequestEvent) error {
	if err := requireAdmin(e); err != nil {
		return err
	}

	balances, err := h.finance.Balance(e.Request.Context())
	if err != nil {
		return respondError(e, "FinanceHandler.GetBalance()", err)
	}
	return e.JSON(http.StatusOK, map[string]any{"balances": balances})
}

// Withdraw - pay collected funds out to a mobile-money account
func (h *FinanceHandler) Withdraw(e *core.RequestEvent) error {
	if err := requireAdmin(e); err != nil {
		return err
	}

	var req services.WithdrawRequest
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}
	req.Actor = actorOf(e)

	res, err := h.finance.Withdraw(e.Request.Context(), req)
	if err != nil {
		return respondError(e, "FinanceHandler.Withdraw()", err)
	}
	return e.JSON(http.StatusOK, res)
}
