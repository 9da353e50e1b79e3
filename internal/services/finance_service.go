package services

import (
	"context"
	"log/slog"
	"strings"

	"github.com/iGETsense/Devil-POOl-sub000/internal/services/gateway"
	"github.com/iGETsense/Devil-POOl-sub000/internal/status"
	"github.com/iGETsense/Devil-POOl-sub000/models"

	"github.com/shopspring/decimal"
)

type FinanceService struct {
	gateway gateway.Gateway
	audit   AuditRecorder
}

func NewFinanceService(gw gateway.Gateway, audit AuditRecorder) *FinanceService {
	return &FinanceService{gateway: gw, audit: audit}
}

func (s *FinanceService) Balance(ctx context.Context) ([]gateway.Balance, error) {
	return s.gateway.Balance(ctx)
}

type WithdrawRequest struct {
	Amount   int64           `json:"amount"`
	Phone    string          `json:"phone"`
	Operator models.Operator `json:"operator"`
	Actor    string          `json:"-"`
}

// Withdraw pays collected funds out to a mobile-money account.
func (s *FinanceService) Withdraw(ctx context.Context, req WithdrawRequest) (*gateway.WithdrawResponse, error) {
	if req.Amount <= 0 {
		return nil, status.Invalid("amount", "must be positive")
	}
	if !req.Operator.Mobile() {
		return nil, status.Invalid("operator", "%q cannot receive payouts", req.Operator)
	}
	phone := models.NormalizePhone(req.Phone)
	if len(phone) != 9 {
		return nil, status.Invalid("phone", "must be a 9-digit number")
	}
	if strings.TrimSpace(req.Actor) == "" {
		return nil, status.Invalid("actor", "is required")
	}

	res, err := s.gateway.Withdraw(ctx, gateway.WithdrawRequest{
		Amount:   decimal.NewFromInt(req.Amount),
		Payer:    phone,
		Provider: gateway.ProviderFor(req.Operator),
	})
	if err != nil {
		slog.Error("FinanceService.Withdraw()", "actor", req.Actor, "amount", req.Amount, "error", err)
		return nil, err
	}

	slog.Warn("withdrawal", "audit", true, "actor", req.Actor, "amount", req.Amount, "phone", phone, "reference", res.Reference, "status", res.Status)
	if s.audit != nil {
		entry := newAuditEntry(AuditWithdraw, req.Actor, res.Reference, map[string]any{
			"amount":   req.Amount,
			"phone":    phone,
			"operator": req.Operator,
			"status":   res.Status,
		})
		if err := s.audit.Record(ctx, entry); err != nil {
			slog.Error("audit record", "action", entry.Action, "error", err)
		}
	}
	return res, nil
}
