package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/iGETsense/Devil-POOl-sub000/internal/status"
	"github.com/iGETsense/Devil-POOl-sub000/models"

	"github.com/shopspring/decimal"
)

type sandboxTx struct {
	ID        string                   `json:"pk"`
	Reference string                   `json:"reference"`
	Payer     string                   `json:"payer"`
	Provider  string                   `json:"service"`
	Amount    decimal.Decimal          `json:"amount"`
	Status    models.TransactionStatus `json:"status"`
}

// Sandbox is an in-process gateway for development and tests. Collections
// stay PENDING until Resolve is called, unless AutoApprove is set.
type Sandbox struct {
	AutoApprove bool

	mu       sync.Mutex
	seq      int
	txs      map[string]*sandboxTx
	balances map[string]decimal.Decimal
}

func NewSandbox() *Sandbox {
	return &Sandbox{
		txs:      map[string]*sandboxTx{},
		balances: map[string]decimal.Decimal{},
	}
}

func (s *Sandbox) Initiate(_ context.Context, req InitiateRequest) (*InitiateResponse, error) {
	if err := checkPayer(req.Payer); err != nil {
		return nil, err
	}
	if req.Provider == "" {
		return nil, &status.GatewayError{Code: "unsupported-service", Message: "service is not supported"}
	}
	if !req.Amount.IsPositive() {
		return nil, &status.GatewayError{Code: "invalid-amount", Message: "amount must be positive"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	tx := &sandboxTx{
		ID:        fmt.Sprintf("SBX-%06d", s.seq),
		Reference: req.Reference,
		Payer:     req.Payer,
		Provider:  req.Provider,
		Amount:    req.Amount,
		Status:    models.TransactionPending,
	}
	s.txs[tx.ID] = tx
	if s.AutoApprove {
		s.settle(tx, models.TransactionSuccess)
	}

	raw, _ := json.Marshal(tx)
	return &InitiateResponse{ProviderTxID: tx.ID, Status: tx.Status, Raw: raw}, nil
}

func (s *Sandbox) CheckStatus(_ context.Context, providerTxID string) (*StatusResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[providerTxID]
	if !ok {
		return nil, &status.GatewayError{Code: "not-found", Message: "transaction not found"}
	}
	raw, _ := json.Marshal(tx)
	return &StatusResponse{Status: tx.Status, Raw: raw}, nil
}

// Resolve moves a pending collection to its final status, as the provider
// would once the payer confirms or declines on their handset.
func (s *Sandbox) Resolve(providerTxID string, st models.TransactionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[providerTxID]
	if !ok {
		return fmt.Errorf("sandbox: %s: %w", providerTxID, status.ErrNotFound)
	}
	if tx.Status.Terminal() {
		return nil
	}
	s.settle(tx, st)
	return nil
}

func (s *Sandbox) settle(tx *sandboxTx, st models.TransactionStatus) {
	tx.Status = st
	if st == models.TransactionSuccess {
		s.balances[tx.Provider] = s.balances[tx.Provider].Add(tx.Amount)
	}
}

func (s *Sandbox) Withdraw(_ context.Context, req WithdrawRequest) (*WithdrawResponse, error) {
	if err := checkPayer(req.Payer); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.balances[req.Provider].LessThan(req.Amount) {
		return nil, &status.GatewayError{Code: "insufficient-balance", Message: "insufficient balance on the provider account"}
	}
	s.balances[req.Provider] = s.balances[req.Provider].Sub(req.Amount)
	s.seq++

	ref := fmt.Sprintf("SBX-W%06d", s.seq)
	raw, _ := json.Marshal(map[string]any{"reference": ref, "status": models.TransactionSuccess})
	return &WithdrawResponse{Status: models.TransactionSuccess, Reference: ref, Raw: raw}, nil
}

func (s *Sandbox) Balance(_ context.Context) ([]Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Balance, 0, len(s.balances))
	for p, v := range s.balances {
		out = append(out, Balance{Provider: p, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func checkPayer(payer string) error {
	if len(payer) != 9 {
		return &status.GatewayError{Code: "invalid-payer", Message: "payer number must have 9 digits"}
	}
	for _, r := range payer {
		if r < '0' || r > '9' {
			return &status.GatewayError{Code: "invalid-payer", Message: "payer number must have 9 digits"}
		}
	}
	return nil
}
