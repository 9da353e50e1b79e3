package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/iGETsense/Devil-POOl-sub000/internal/ledger"
	"github.com/iGETsense/Devil-POOl-sub000/internal/services/gateway"
	"github.com/iGETsense/Devil-POOl-sub000/internal/status"
	"github.com/iGETsense/Devil-POOl-sub000/models"

	"github.com/shopspring/decimal"
)

// TransactionService owns the transaction records: one per gateway
// collection, written before any ticket exists.
type TransactionService struct {
	store   ledger.Store
	gateway gateway.Gateway
	now     func() time.Time
}

func NewTransactionService(store ledger.Store, gw gateway.Gateway) *TransactionService {
	return &TransactionService{store: store, gateway: gw, now: time.Now}
}

// Open asks the gateway to collect amount from payer and records the intent
// under the gateway's transaction id. Nothing is stored when the gateway
// rejects the request; the reservation must then be discarded.
func (s *TransactionService) Open(ctx context.Context, reservedBookingID string, amount int64, meta *models.TransactionMetadata, payer, provider string) (string, error) {
	if reservedBookingID == "" {
		return "", status.Invalid("bookingId", "reservation reference is required")
	}
	if amount <= 0 {
		return "", status.Invalid("amount", "must be positive")
	}
	if provider == "" {
		return "", status.Invalid("operator", "operator does not settle through the gateway")
	}

	res, err := s.gateway.Initiate(ctx, gateway.InitiateRequest{
		Amount:    decimal.NewFromInt(amount),
		Payer:     payer,
		Provider:  provider,
		Reference: reservedBookingID,
	})
	if err != nil {
		slog.Error("TransactionService.Open()", "bookingId", reservedBookingID, "provider", provider, "error", err)
		return "", err
	}

	now := s.now()
	st := res.Status
	if st != models.TransactionSuccess {
		st = models.TransactionPending
	}
	tx := &models.Transaction{
		ID:          res.ProviderTxID,
		BookingID:   reservedBookingID,
		Amount:      amount,
		Status:      st,
		Provider:    provider,
		CreatedAt:   now,
		UpdatedAt:   now,
		Metadata:    meta,
		RawResponse: res.Raw,
	}

	created, err := s.store.Create(ctx, ledger.Transactions, tx.ID, tx)
	if err != nil {
		slog.Warn("transaction opened at gateway but not stored", "audit", true, "providerTxId", tx.ID, "bookingId", reservedBookingID, "provider", provider, "amount", amount, "error", err)
		return "", fmt.Errorf("open transaction %s: %w", tx.ID, err)
	}
	if !created {
		return "", &status.InvariantViolation{Op: "openTransaction", Detail: fmt.Sprintf("gateway reused transaction id %s", tx.ID)}
	}

	slog.Info("transaction opened", "transactionId", tx.ID, "bookingId", reservedBookingID, "amount", amount, "status", tx.Status)
	return tx.ID, nil
}

func (s *TransactionService) Get(ctx context.Context, id string) (*models.Transaction, error) {
	var tx models.Transaction
	if err := s.store.Get(ctx, ledger.Transactions, id, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// UpdateStatus records the reported status. A terminal status is final: later
// reports are ignored and changed is false.
func (s *TransactionService) UpdateStatus(ctx context.Context, id string, next models.TransactionStatus, raw json.RawMessage) (*models.Transaction, bool, error) {
	if !next.Valid() {
		return nil, false, status.Invalid("status", "unknown transaction status %q", next)
	}

	var tx models.Transaction
	changed := false
	err := s.store.Update(ctx, ledger.Transactions, id, &tx, func() error {
		changed = false
		if tx.Status.Terminal() {
			if tx.Status != next {
				slog.Warn("conflicting status report ignored", "transactionId", id, "stored", tx.Status, "reported", next)
			}
			return ledger.ErrSkip
		}
		changed = tx.Status != next
		tx.Status = next
		tx.UpdatedAt = s.now()
		if len(raw) > 0 {
			tx.RawResponse = raw
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &tx, changed, nil
}

// MarkUnresolved flags a captured payment that could not be turned into
// tickets. The flag is durable and shows up in ListUnresolved.
func (s *TransactionService) MarkUnresolved(ctx context.Context, id, reason string) error {
	var tx models.Transaction
	return s.store.Update(ctx, ledger.Transactions, id, &tx, func() error {
		if tx.Unresolved && tx.UnresolvedReason == reason {
			return ledger.ErrSkip
		}
		if tx.UnresolvedAt == nil {
			now := s.now()
			tx.UnresolvedAt = &now
		}
		tx.Unresolved = true
		tx.UnresolvedReason = reason
		return nil
	})
}

// AttachBookings records which bookings a transaction paid for.
func (s *TransactionService) AttachBookings(ctx context.Context, id string, bookingIDs []string) error {
	var tx models.Transaction
	return s.store.Update(ctx, ledger.Transactions, id, &tx, func() error {
		seen := map[string]bool{}
		for _, b := range tx.BookingIDs {
			seen[b] = true
		}
		added := false
		for _, b := range bookingIDs {
			if !seen[b] {
				seen[b] = true
				tx.BookingIDs = append(tx.BookingIDs, b)
				added = true
			}
		}
		if !added {
			return ledger.ErrSkip
		}
		return nil
	})
}

func (s *TransactionService) ListUnresolved(ctx context.Context) ([]*models.Transaction, error) {
	return s.query(ctx, "unresolved", "true")
}

// ListUnmaterialized returns SUCCESS transactions that reference bookings but
// never had any attached. Transactions escalated for another reason are left
// to the operator.
func (s *TransactionService) ListUnmaterialized(ctx context.Context) ([]*models.Transaction, error) {
	succeeded, err := s.query(ctx, "status", string(models.TransactionSuccess))
	if err != nil {
		return nil, err
	}
	out := succeeded[:0]
	for _, tx := range succeeded {
		if len(tx.BookingIDs) > 0 || (tx.BookingID == "" && tx.Metadata == nil) {
			continue
		}
		if tx.Unresolved && !strings.HasPrefix(tx.UnresolvedReason, ReasonNotIssued) {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

// ClearUnresolved drops the flag once a retried settlement has issued the
// tickets.
func (s *TransactionService) ClearUnresolved(ctx context.Context, id string) error {
	var tx models.Transaction
	return s.store.Update(ctx, ledger.Transactions, id, &tx, func() error {
		if !tx.Unresolved {
			return ledger.ErrSkip
		}
		tx.Unresolved = false
		tx.UnresolvedAt = nil
		tx.UnresolvedReason = ""
		return nil
	})
}

func (s *TransactionService) ListPending(ctx context.Context) ([]*models.Transaction, error) {
	return s.query(ctx, "status", string(models.TransactionPending))
}

func (s *TransactionService) query(ctx context.Context, field, equals string) ([]*models.Transaction, error) {
	ids, err := s.store.Query(ctx, ledger.Transactions, field, equals)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Transaction, 0, len(ids))
	for _, id := range ids {
		tx, err := s.Get(ctx, id)
		if errors.Is(err, status.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
