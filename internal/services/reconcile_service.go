package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/iGETsense/Devil-POOl-sub000/internal/ledger"
	"github.com/iGETsense/Devil-POOl-sub000/internal/services/gateway"
	"github.com/iGETsense/Devil-POOl-sub000/internal/status"
	"github.com/iGETsense/Devil-POOl-sub000/models"
	"github.com/iGETsense/Devil-POOl-sub000/monitoring"
	"github.com/iGETsense/Devil-POOl-sub000/utils"

	"golang.org/x/crypto/bcrypt"
)

type SettlementResult string

const (
	SettlementCreated     SettlementResult = "CREATED"
	SettlementAlreadyPaid SettlementResult = "ALREADY_PAID"
	SettlementFailed      SettlementResult = "FAILED"
	SettlementPending     SettlementResult = "PENDING"
	SettlementUnresolved  SettlementResult = "UNRESOLVED"
)

const (
	SourceWebhook = "webhook"
	SourceSync    = "sync"
	SourceCollect = "collect"
	SourceManual  = "manual"
)

// ReasonNotIssued prefixes the unresolved reason of a SUCCESS transaction
// whose bookings could not be written. The sync job retries those.
const ReasonNotIssued = "tickets not issued"

// Settlement is the outcome of one settle call. StatusChanged reports whether
// the transaction record moved to a new status.
type Settlement struct {
	TransactionID string            `json:"transactionId"`
	Result        SettlementResult  `json:"result"`
	StatusChanged bool              `json:"statusChanged"`
	Bookings      []*models.Booking `json:"bookings,omitempty"`
	Reason        string            `json:"reason,omitempty"`
}

// Notifier is told about tickets issued by a settlement.
type Notifier interface {
	TicketsIssued(ctx context.Context, phone string, bookings []*models.Booking) error
}

type ReconcileConfig struct {
	// OverridePINHash is the bcrypt hash admins must match to force-pay.
	// An empty hash disables force-pay.
	OverridePINHash string
	LockTTL         time.Duration
}

type ReconcileService struct {
	store        ledger.Store
	transactions *TransactionService
	bookings     *BookingService
	audit        AuditRecorder
	notifier     Notifier
	cfg          ReconcileConfig
}

func NewReconcileService(store ledger.Store, transactions *TransactionService, bookings *BookingService, audit AuditRecorder, notifier Notifier, cfg ReconcileConfig) *ReconcileService {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &ReconcileService{
		store:        store,
		transactions: transactions,
		bookings:     bookings,
		audit:        audit,
		notifier:     notifier,
		cfg:          cfg,
	}
}

type CollectRequest struct {
	Phone    string          `json:"phone"`
	PassType models.PassType `json:"passType"`
	Operator models.Operator `json:"operator"`
	Names    []string        `json:"names"`
}

// Collect starts a strict-mode purchase: a reservation id is allocated and
// the payment is requested, but no booking exists until the payment settles.
// Providers that confirm synchronously are settled on the spot.
func (s *ReconcileService) Collect(ctx context.Context, req CollectRequest) (*models.Transaction, *Settlement, error) {
	if !req.PassType.Valid() {
		return nil, nil, status.Invalid("passType", "unknown pass type %q", req.PassType)
	}
	if !req.Operator.Mobile() {
		return nil, nil, status.Invalid("operator", "%q cannot be collected through the gateway", req.Operator)
	}
	if want := req.PassType.GroupSize(); len(req.Names) != want {
		return nil, nil, status.Invalid("names", "%s requires %d names, got %d", req.PassType, want, len(req.Names))
	}
	names := make([]string, len(req.Names))
	for i, n := range req.Names {
		names[i] = strings.TrimSpace(n)
		err := ValidateInput(models.BookingInput{FullName: names[i], Phone: req.Phone, PassType: req.PassType, Operator: req.Operator})
		if err != nil {
			return nil, nil, err
		}
	}

	reserved, err := utils.NewBookingReference()
	if err != nil {
		return nil, nil, fmt.Errorf("collect: %w", err)
	}
	phone := models.NormalizePhone(req.Phone)
	meta := &models.TransactionMetadata{
		Phone:    phone,
		PassType: req.PassType,
		Operator: req.Operator,
		Names:    names,
	}

	txID, err := s.transactions.Open(ctx, reserved, req.PassType.Amount(), meta, phone, gateway.ProviderFor(req.Operator))
	if err != nil {
		return nil, nil, err
	}
	tx, err := s.transactions.Get(ctx, txID)
	if err != nil {
		return nil, nil, err
	}
	if tx.Status != models.TransactionSuccess {
		return tx, nil, nil
	}

	settlement, err := s.settle(ctx, SourceCollect, txID, models.TransactionSuccess, tx.RawResponse)
	return tx, settlement, err
}

// PayBooking requests payment for a booking that already exists as PENDING.
// The booking is linked to the transaction straight away so the sync job
// picks it up if the callback never arrives.
func (s *ReconcileService) PayBooking(ctx context.Context, bookingID, payer string) (*models.Transaction, *Settlement, error) {
	b, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, nil, err
	}
	if b.Status != models.BookingPending {
		return nil, nil, status.Invalid("bookingId", "booking is %s, only PENDING bookings can be paid", b.Status)
	}
	if b.TransactionID != "" {
		return nil, nil, status.Invalid("bookingId", "booking already has transaction %s", b.TransactionID)
	}
	if !b.Operator.Mobile() {
		return nil, nil, status.Invalid("operator", "%q cannot be collected through the gateway", b.Operator)
	}
	if payer = models.NormalizePhone(payer); payer == "" {
		payer = b.Phone
	}

	txID, err := s.transactions.Open(ctx, b.ID, b.Price, nil, payer, gateway.ProviderFor(b.Operator))
	if err != nil {
		return nil, nil, err
	}
	if err := s.bookings.LinkTransaction(ctx, b.ID, txID); err != nil {
		return nil, nil, err
	}
	tx, err := s.transactions.Get(ctx, txID)
	if err != nil {
		return nil, nil, err
	}
	if tx.Status != models.TransactionSuccess {
		return tx, nil, nil
	}

	settlement, err := s.settle(ctx, SourceCollect, txID, models.TransactionSuccess, tx.RawResponse)
	return tx, settlement, err
}

// Settle applies a reported gateway status to a transaction. It is safe to
// call any number of times, concurrently, for the same transaction.
func (s *ReconcileService) Settle(ctx context.Context, txID string, reported models.TransactionStatus, raw json.RawMessage) (*Settlement, error) {
	return s.settle(ctx, SourceManual, txID, reported, raw)
}

func (s *ReconcileService) settle(ctx context.Context, source, txID string, reported models.TransactionStatus, raw json.RawMessage) (*Settlement, error) {
	if !reported.Valid() {
		return nil, status.Invalid("status", "unknown transaction status %q", reported)
	}

	if _, err := s.transactions.Get(ctx, txID); err != nil {
		if status.IsNotFound(err) {
			return nil, fmt.Errorf("settle %s: %w", txID, status.ErrUnknownTransaction)
		}
		return nil, err
	}

	release, err := s.store.Lock(ctx, "settle:"+txID, s.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("settle %s: %w", txID, err)
	}
	defer release()

	tx, changed, err := s.transactions.UpdateStatus(ctx, txID, reported, raw)
	if err != nil {
		return nil, err
	}

	out := &Settlement{TransactionID: txID, StatusChanged: changed}
	switch {
	case reported == models.TransactionSuccess && tx.Status == models.TransactionFailed:
		// The gateway changed its mind after we stored FAILED. Money may
		// have moved; a human has to look at it.
		out.Result = SettlementUnresolved
		out.Reason = "success reported after the transaction failed"
		s.escalate(ctx, source, tx, out.Reason)
	case reported == models.TransactionFailed:
		out.Result = SettlementFailed
	case reported == models.TransactionPending:
		out.Result = SettlementPending
	default:
		err = s.materialize(ctx, source, tx, out)
		if err != nil && out.Result != SettlementUnresolved {
			// SUCCESS is already stored. Flag it so the sync job retries
			// and an operator sees it meanwhile.
			out.Result = SettlementUnresolved
			out.Reason = ReasonNotIssued + ": " + err.Error()
			s.escalate(context.WithoutCancel(ctx), source, tx, out.Reason)
		}
	}

	monitoring.TrackSettlement(source, string(out.Result))
	if err != nil {
		return out, err
	}
	if out.Result == SettlementCreated {
		slog.Info("settlement issued tickets", "source", source, "transactionId", txID, "bookings", len(out.Bookings))
		s.notify(ctx, tx, out.Bookings)
	}
	return out, nil
}

// materialize turns a successful transaction into paid bookings, creating
// whatever does not exist yet.
func (s *ReconcileService) materialize(ctx context.Context, source string, tx *models.Transaction, out *Settlement) error {
	var bookings []*models.Booking
	created := 0

	switch {
	case tx.Metadata != nil && len(tx.Metadata.Names) > 0:
		m := tx.Metadata
		inputs := make([]models.BookingInput, len(m.Names))
		for i, name := range m.Names {
			inputs[i] = models.BookingInput{FullName: name, Phone: m.Phone, PassType: m.PassType, Operator: m.Operator}
		}
		var err error
		bookings, created, err = s.bookings.EnsureBatch(ctx, GroupBookingIDs(tx.BookingID, len(inputs)), inputs)
		if err != nil {
			return err
		}
	case tx.BookingID != "":
		b, err := s.bookings.Get(ctx, tx.BookingID)
		if err != nil && !status.IsNotFound(err) {
			return err
		}
		if b != nil {
			bookings = []*models.Booking{b}
		}
	}

	if len(bookings) == 0 {
		out.Result = SettlementUnresolved
		out.Reason = "no metadata and no booking for the reserved reference"
		s.escalate(ctx, source, tx, out.Reason)
		return nil
	}

	applied := 0
	for i, b := range bookings {
		if err := s.bookings.LinkTransaction(ctx, b.ID, tx.ID); err != nil {
			var iv *status.InvariantViolation
			if errors.As(err, &iv) {
				slog.Error("settle: booking linked to another transaction", "source", source, "transactionId", tx.ID, "bookingId", b.ID, "error", err)
				out.Result = SettlementUnresolved
				out.Reason = iv.Detail
				s.escalate(ctx, source, tx, iv.Detail)
			}
			return err
		}
		paid, ok, err := s.bookings.MarkAsPaid(ctx, b.ID)
		if errors.Is(err, status.ErrTicketCancelled) {
			out.Result = SettlementUnresolved
			out.Reason = fmt.Sprintf("booking %s was cancelled before its payment was confirmed", b.ID)
			s.escalate(ctx, source, tx, out.Reason)
			return nil
		}
		if err != nil {
			return err
		}
		if ok {
			applied++
		}
		bookings[i] = paid
	}

	ids := make([]string, len(bookings))
	for i, b := range bookings {
		ids[i] = b.ID
	}
	if err := s.transactions.AttachBookings(ctx, tx.ID, ids); err != nil {
		slog.Error("settle: attach bookings", "transactionId", tx.ID, "error", err)
	}
	if tx.Unresolved && strings.HasPrefix(tx.UnresolvedReason, ReasonNotIssued) {
		if err := s.transactions.ClearUnresolved(ctx, tx.ID); err != nil {
			slog.Error("settle: clear unresolved", "transactionId", tx.ID, "error", err)
		}
		slog.Info("retried settlement issued tickets", "source", source, "transactionId", tx.ID)
	}

	out.Bookings = bookings
	if created > 0 || applied > 0 {
		out.Result = SettlementCreated
	} else {
		out.Result = SettlementAlreadyPaid
	}
	return nil
}

func (s *ReconcileService) escalate(ctx context.Context, source string, tx *models.Transaction, reason string) {
	slog.Warn("unresolved settlement", "audit", true, "source", source, "transactionId", tx.ID, "bookingId", tx.BookingID, "amount", tx.Amount, "reason", reason)

	if err := s.transactions.MarkUnresolved(ctx, tx.ID, reason); err != nil {
		slog.Error("settle: mark unresolved", "transactionId", tx.ID, "error", err)
	}
	s.record(ctx, newAuditEntry(AuditUnresolvedSettlement, source, tx.ID, map[string]any{
		"bookingId": tx.BookingID,
		"amount":    tx.Amount,
		"reason":    reason,
	}))
}

func (s *ReconcileService) notify(ctx context.Context, tx *models.Transaction, bookings []*models.Booking) {
	if s.notifier == nil || len(bookings) == 0 {
		return
	}
	phone := bookings[0].Phone
	if tx.Metadata != nil && tx.Metadata.Phone != "" {
		phone = tx.Metadata.Phone
	}
	if err := s.notifier.TicketsIssued(ctx, phone, bookings); err != nil {
		slog.Error("settle: notify", "transactionId", tx.ID, "error", err)
	}
}

func (s *ReconcileService) record(ctx context.Context, entry AuditEntry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		slog.Error("audit record", "action", entry.Action, "subject", entry.Subject, "error", err)
	}
}

type WebhookPayload struct {
	ProviderTxID string `json:"providerTxId"`
	Status       string `json:"status"`
	Reference    string `json:"reference"`
}

// HandleWebhook settles the transaction named by an unsolicited gateway
// callback. Redelivery of the same payload is harmless.
func (s *ReconcileService) HandleWebhook(ctx context.Context, payload WebhookPayload, raw json.RawMessage) (*Settlement, error) {
	if payload.ProviderTxID == "" {
		return nil, status.Invalid("providerTxId", "is required")
	}

	settlement, err := s.settle(ctx, SourceWebhook, payload.ProviderTxID, gateway.NormalizeStatus(payload.Status), raw)
	if errors.Is(err, status.ErrUnknownTransaction) {
		slog.Warn("webhook for unknown transaction dropped", "providerTxId", payload.ProviderTxID, "reference", payload.Reference)
	}
	return settlement, err
}

type ForcePayRequest struct {
	BookingID string
	Actor     string
	PIN       string
	Confirm   bool
}

// ForcePay marks a booking paid without gateway proof, for money received
// out of band. It needs an explicit confirmation and the override PIN, and
// leaves an audit entry.
func (s *ReconcileService) ForcePay(ctx context.Context, req ForcePayRequest) (*models.Booking, error) {
	if !req.Confirm {
		return nil, status.ErrConfirmationRequired
	}
	if strings.TrimSpace(req.Actor) == "" {
		return nil, status.Invalid("actor", "is required")
	}
	if s.cfg.OverridePINHash == "" ||
		bcrypt.CompareHashAndPassword([]byte(s.cfg.OverridePINHash), []byte(req.PIN)) != nil {
		monitoring.TrackOverride("denied")
		slog.Warn("force-pay denied", "audit", true, "actor", req.Actor, "bookingId", req.BookingID)
		return nil, status.ErrOverrideDenied
	}

	before, err := s.bookings.Get(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	b, applied, err := s.bookings.MarkAsPaid(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}

	outcome := "noop"
	if applied {
		outcome = "applied"
	}
	monitoring.TrackOverride(outcome)
	slog.Warn("force-pay", "audit", true, "actor", req.Actor, "bookingId", req.BookingID, "previousStatus", before.Status, "applied", applied)
	s.record(ctx, newAuditEntry(AuditForcePay, req.Actor, req.BookingID, map[string]any{
		"previousStatus": before.Status,
		"applied":        applied,
	}))
	return b, nil
}

// CancelBooking cancels on behalf of an operator and audits the action.
func (s *ReconcileService) CancelBooking(ctx context.Context, bookingID, actor string) (bool, error) {
	ok, err := s.bookings.Cancel(ctx, bookingID)
	if err != nil {
		return false, err
	}
	slog.Info("booking cancel requested", "actor", actor, "bookingId", bookingID, "cancelled", ok)
	if ok {
		s.record(ctx, newAuditEntry(AuditCancel, actor, bookingID, nil))
	}
	return ok, nil
}
