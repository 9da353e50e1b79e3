// Package gateway is the mobile-money payment provider boundary: collecting
// funds, reporting asynchronous status and paying out.
package gateway

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/iGETsense/Devil-POOl-sub000/models"

	"github.com/shopspring/decimal"
)

type InitiateRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Payer     string          `json:"payer"`
	Provider  string          `json:"service"`
	Reference string          `json:"reference"`
}

type InitiateResponse struct {
	ProviderTxID string                   `json:"providerTxId"`
	Status       models.TransactionStatus `json:"status"`
	Raw          json.RawMessage          `json:"-"`
}

type StatusResponse struct {
	Status models.TransactionStatus `json:"status"`
	Raw    json.RawMessage          `json:"-"`
}

type WithdrawRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Payer    string          `json:"receiver"`
	Provider string          `json:"service"`
}

type WithdrawResponse struct {
	Status    models.TransactionStatus `json:"status"`
	Reference string                   `json:"reference"`
	Raw       json.RawMessage          `json:"-"`
}

// Balance is one provider account held at the gateway.
type Balance struct {
	Provider string          `json:"provider"`
	Value    decimal.Decimal `json:"value"`
}

// Gateway is implemented by the HTTP client, the sandbox and the guarded
// wrapper. Rejections come back as *status.GatewayError.
type Gateway interface {
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error)
	CheckStatus(ctx context.Context, providerTxID string) (*StatusResponse, error)
	Withdraw(ctx context.Context, req WithdrawRequest) (*WithdrawResponse, error)
	Balance(ctx context.Context) ([]Balance, error)
}

// ProviderFor maps a booking operator to the gateway service code.
func ProviderFor(op models.Operator) string {
	switch op {
	case models.OperatorMobileA:
		return "MTN"
	case models.OperatorMobileB:
		return "ORANGE"
	default:
		return ""
	}
}

// NormalizeStatus folds the provider's status vocabulary into ours.
// Anything unrecognised stays PENDING so it is re-checked later.
func NormalizeStatus(s string) models.TransactionStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SUCCESS", "SUCCESSFUL", "COMPLETED", "FNLD":
		return models.TransactionSuccess
	case "FAILED", "FAIL", "REJECTED", "CANCELLED", "EXPIRED":
		return models.TransactionFailed
	default:
		return models.TransactionPending
	}
}
