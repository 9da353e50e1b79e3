package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/iGETsense/Devil-POOl-sub000/internal/ledger"
	"github.com/iGETsense/Devil-POOl-sub000/internal/status"
	"github.com/iGETsense/Devil-POOl-sub000/models"
	"github.com/iGETsense/Devil-POOl-sub000/utils"
)

const maxNameLength = 120

type BookingService struct {
	store ledger.Store
	stats *StatsService
	now   func() time.Time
	newID func() (string, error)
}

func NewBookingService(store ledger.Store, stats *StatsService) *BookingService {
	return &BookingService{
		store: store,
		stats: stats,
		now:   time.Now,
		newID: utils.NewBookingReference,
	}
}

// GroupBookingIDs derives the ids of the n bookings a purchase reserved under
// base: base itself, then base-2 up to base-n.
func GroupBookingIDs(base string, n int) []string {
	ids := make([]string, 0, n)
	ids = append(ids, base)
	for i := 2; i <= n; i++ {
		ids = append(ids, fmt.Sprintf("%s-%d", base, i))
	}
	return ids
}

func ValidateInput(in models.BookingInput) error {
	name := strings.TrimSpace(in.FullName)
	if name == "" {
		return status.Invalid("fullName", "is required")
	}
	if len(name) > maxNameLength {
		return status.Invalid("fullName", "must be at most %d characters", maxNameLength)
	}
	if len(models.NormalizePhone(in.Phone)) != 9 {
		return status.Invalid("phone", "must be a 9-digit number")
	}
	if !in.PassType.Valid() {
		return status.Invalid("passType", "unknown pass type %q", in.PassType)
	}
	if !in.Operator.Valid() {
		return status.Invalid("operator", "unknown operator %q", in.Operator)
	}
	return nil
}

// Create stores a new PENDING booking priced from its pass type.
func (s *BookingService) Create(ctx context.Context, in models.BookingInput) (*models.Booking, error) {
	if err := ValidateInput(in); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 3; attempt++ {
		id, err := s.newID()
		if err != nil {
			return nil, fmt.Errorf("create booking: %w", err)
		}
		b, created, err := s.ensure(ctx, id, in)
		if err != nil {
			return nil, err
		}
		if created {
			return b, nil
		}
	}
	return nil, fmt.Errorf("create booking: could not allocate a unique reference")
}

// CreateBatch creates one independent single-entry booking per input. The
// ids share one reference: BKxxxx, BKxxxx-2, and so on.
func (s *BookingService) CreateBatch(ctx context.Context, inputs []models.BookingInput) ([]*models.Booking, error) {
	if len(inputs) == 0 {
		return nil, status.Invalid("names", "at least one name is required")
	}
	for _, in := range inputs {
		if err := ValidateInput(in); err != nil {
			return nil, err
		}
	}

	for attempt := 0; attempt < 3; attempt++ {
		base, err := s.newID()
		if err != nil {
			return nil, fmt.Errorf("create batch: %w", err)
		}
		// A collision on the first id means the whole reference is taken.
		var taken models.Booking
		if err := s.store.Get(ctx, ledger.Bookings, base, &taken); err == nil {
			continue
		} else if !status.IsNotFound(err) {
			return nil, err
		}
		out, _, err := s.EnsureBatch(ctx, GroupBookingIDs(base, len(inputs)), inputs)
		return out, err
	}
	return nil, fmt.Errorf("create batch: could not allocate a unique reference")
}

// EnsureBatch creates the bookings that do not exist yet under the given ids
// and returns all of them. created counts the bookings this call wrote.
func (s *BookingService) EnsureBatch(ctx context.Context, ids []string, inputs []models.BookingInput) ([]*models.Booking, int, error) {
	if len(ids) != len(inputs) {
		return nil, 0, &status.InvariantViolation{Op: "createBatch", Detail: fmt.Sprintf("%d ids for %d inputs", len(ids), len(inputs))}
	}

	out := make([]*models.Booking, 0, len(ids))
	created := 0
	for i, id := range ids {
		if err := ValidateInput(inputs[i]); err != nil {
			return nil, created, err
		}
		b, ok, err := s.ensure(ctx, id, inputs[i])
		if err != nil {
			return nil, created, err
		}
		if ok {
			created++
		}
		out = append(out, b)
	}
	return out, created, nil
}

// ensure writes the booking if the id is free, otherwise loads what is there.
func (s *BookingService) ensure(ctx context.Context, id string, in models.BookingInput) (*models.Booking, bool, error) {
	b := &models.Booking{
		ID:        id,
		FullName:  strings.TrimSpace(in.FullName),
		Phone:     models.NormalizePhone(in.Phone),
		PassType:  in.PassType,
		Operator:  in.Operator,
		Price:     in.PassType.Price(),
		Status:    models.BookingPending,
		QRCode:    models.QRCodeFor(id),
		CreatedAt: s.now(),
	}

	release, err := s.stats.Guard(ctx)
	if err != nil {
		return nil, false, err
	}
	defer release()

	created, err := s.store.Create(ctx, ledger.Bookings, id, b)
	if err != nil {
		return nil, false, fmt.Errorf("create booking %s: %w", id, err)
	}
	if !created {
		existing, err := s.Get(ctx, id)
		return existing, false, err
	}

	if err := s.stats.Apply(ctx, models.TransitionDelta(b, "", models.BookingPending)); err != nil {
		slog.Error("BookingService.ensure() stats", "bookingId", id, "error", err)
	}
	return b, true, nil
}

// MarkAsPaid moves a PENDING booking to PAID. applied is false when the
// booking was already PAID or VALIDATED; the aggregate is only touched once
// per booking.
func (s *BookingService) MarkAsPaid(ctx context.Context, id string) (*models.Booking, bool, error) {
	var b models.Booking
	var from models.BookingStatus
	applied := false

	release, err := s.stats.Guard(ctx)
	if err != nil {
		return nil, false, err
	}
	defer release()

	err = s.store.Update(ctx, ledger.Bookings, id, &b, func() error {
		applied = false
		switch b.Status {
		case models.BookingPaid, models.BookingValidated:
			return ledger.ErrSkip
		case models.BookingCancelled:
			return fmt.Errorf("mark %s paid: %w", id, status.ErrTicketCancelled)
		}
		from = b.Status
		now := s.now()
		b.Status = models.BookingPaid
		if b.PaidAt == nil {
			b.PaidAt = &now
		}
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if !applied {
		return &b, false, nil
	}

	// The CAS above admits one PENDING to PAID transition per booking, so
	// an unreadable flag still counts it.
	first, err := s.store.Flag(ctx, "settled:"+id)
	if err != nil {
		slog.Error("BookingService.MarkAsPaid() flag", "bookingId", id, "error", err)
		first = true
	}
	if !first {
		slog.Warn("booking already counted as paid", "bookingId", id)
		return &b, true, nil
	}
	if err := s.stats.Apply(ctx, models.TransitionDelta(&b, from, models.BookingPaid)); err != nil {
		slog.Error("BookingService.MarkAsPaid() stats", "bookingId", id, "error", err)
	}
	return &b, true, nil
}

// Cancel soft-deletes a PENDING or PAID booking. It returns false and leaves
// the record untouched when the booking is already VALIDATED or CANCELLED.
func (s *BookingService) Cancel(ctx context.Context, id string) (bool, error) {
	var b models.Booking
	var from models.BookingStatus
	cancelled := false

	release, err := s.stats.Guard(ctx)
	if err != nil {
		return false, err
	}
	defer release()

	err = s.store.Update(ctx, ledger.Bookings, id, &b, func() error {
		cancelled = false
		if !b.Status.CanTransitionTo(models.BookingCancelled) {
			return ledger.ErrSkip
		}
		from = b.Status
		now := s.now()
		b.Status = models.BookingCancelled
		b.CancelledAt = &now
		cancelled = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if !cancelled {
		return false, nil
	}

	if err := s.stats.Apply(ctx, models.TransitionDelta(&b, from, models.BookingCancelled)); err != nil {
		slog.Error("BookingService.Cancel() stats", "bookingId", id, "error", err)
	}
	return true, nil
}

// LinkTransaction sets the booking's settling transaction once.
func (s *BookingService) LinkTransaction(ctx context.Context, bookingID, txID string) error {
	var b models.Booking
	return s.store.Update(ctx, ledger.Bookings, bookingID, &b, func() error {
		switch b.TransactionID {
		case txID:
			return ledger.ErrSkip
		case "":
			b.TransactionID = txID
			return nil
		default:
			return &status.InvariantViolation{
				Op:     "linkTransaction",
				Detail: fmt.Sprintf("booking %s is already paid by %s, refusing %s", bookingID, b.TransactionID, txID),
			}
		}
	})
}

func (s *BookingService) Get(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	if err := s.store.Get(ctx, ledger.Bookings, id, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// List returns bookings newest first, optionally filtered by status.
func (s *BookingService) List(ctx context.Context, st models.BookingStatus) ([]*models.Booking, error) {
	var ids []string
	var err error
	if st == "" {
		ids, err = s.store.List(ctx, ledger.Bookings)
	} else {
		if !st.Valid() {
			return nil, status.Invalid("status", "unknown booking status %q", st)
		}
		ids, err = s.store.Query(ctx, ledger.Bookings, "status", string(st))
	}
	if err != nil {
		return nil, err
	}
	return s.load(ctx, ids)
}

// FindByPhone returns the paid and validated tickets bought with a phone
// number, newest first.
func (s *BookingService) FindByPhone(ctx context.Context, phone string) ([]*models.Booking, error) {
	normalized := models.NormalizePhone(phone)
	if len(normalized) != 9 {
		return nil, status.Invalid("phone", "must be a 9-digit number")
	}

	ids, err := s.store.Query(ctx, ledger.Bookings, "phone", normalized)
	if err != nil {
		return nil, err
	}
	all, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := all[:0]
	for _, b := range all {
		if b.Status.Settled() {
			out = append(out, b)
		}
	}
	return out, nil
}

// FindByQR resolves a booking by exact match on its QR payload.
func (s *BookingService) FindByQR(ctx context.Context, qr string) (*models.Booking, error) {
	ids, err := s.store.Query(ctx, ledger.Bookings, "qrCode", qr)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("qr %q: %w", qr, status.ErrNotFound)
	}
	return s.Get(ctx, ids[0])
}

// ListPendingWithTransaction returns PENDING bookings already tied to a
// gateway transaction, which the sync job re-checks.
func (s *BookingService) ListPendingWithTransaction(ctx context.Context) ([]*models.Booking, error) {
	pending, err := s.List(ctx, models.BookingPending)
	if err != nil {
		return nil, err
	}
	out := pending[:0]
	for _, b := range pending {
		if b.TransactionID != "" {
			out = append(out, b)
		}
	}
	return out, nil
}

// ByTransaction returns the bookings linked to a transaction.
func (s *BookingService) ByTransaction(ctx context.Context, txID string) ([]*models.Booking, error) {
	ids, err := s.store.Query(ctx, ledger.Bookings, "transactionId", txID)
	if err != nil {
		return nil, err
	}
	return s.load(ctx, ids)
}

func (s *BookingService) load(ctx context.Context, ids []string) ([]*models.Booking, error) {
	out := make([]*models.Booking, 0, len(ids))
	for _, id := range ids {
		b, err := s.Get(ctx, id)
		if errors.Is(err, status.ErrNotFound) {
			// index entry raced a write
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
