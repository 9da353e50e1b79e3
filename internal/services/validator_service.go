package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/iGETsense/Devil-POOl-sub000/internal/ledger"
	"github.com/iGETsense/Devil-POOl-sub000/internal/status"
	"github.com/iGETsense/Devil-POOl-sub000/models"
	"github.com/iGETsense/Devil-POOl-sub000/monitoring"
)

// ValidatorService is the entry-gate state machine.
type ValidatorService struct {
	store    ledger.Store
	bookings *BookingService
	stats    *StatsService
	now      func() time.Time
}

func NewValidatorService(store ledger.Store, bookings *BookingService, stats *StatsService) *ValidatorService {
	return &ValidatorService{store: store, bookings: bookings, stats: stats, now: time.Now}
}

// Validate consumes the ticket behind a scanned QR payload. Every refusal
// leaves the booking untouched and says why.
func (v *ValidatorService) Validate(ctx context.Context, qrPayload, validator string) (*models.Booking, error) {
	validator = strings.TrimSpace(validator)
	if validator == "" {
		return nil, status.Invalid("validatedBy", "is required")
	}

	found, err := v.Resolve(ctx, qrPayload)
	if err != nil {
		v.track(err)
		return nil, err
	}

	release, err := v.stats.Guard(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var b models.Booking
	err = v.store.Update(ctx, ledger.Bookings, found.ID, &b, func() error {
		switch b.Status {
		case models.BookingPending:
			return status.ErrPaymentNotConfirmed
		case models.BookingCancelled:
			return status.ErrTicketCancelled
		case models.BookingValidated:
			used := &status.AlreadyUsedError{ValidatedBy: b.ValidatedBy}
			if b.ValidatedAt != nil {
				used.ValidatedAt = *b.ValidatedAt
			}
			return used
		case models.BookingPaid:
		default:
			return &status.InvariantViolation{Op: "validate", Detail: fmt.Sprintf("booking %s has unknown status %q", b.ID, b.Status)}
		}
		now := v.now()
		b.Status = models.BookingValidated
		b.ValidatedAt = &now
		b.ValidatedBy = validator
		return nil
	})
	v.track(err)
	if err != nil {
		slog.Info("ticket refused", "bookingId", found.ID, "validator", validator, "reason", err.Error())
		return nil, err
	}

	if err := v.stats.Apply(ctx, models.TransitionDelta(&b, models.BookingPaid, models.BookingValidated)); err != nil {
		slog.Error("ValidatorService.Validate() stats", "bookingId", b.ID, "error", err)
	}
	slog.Info("ticket validated", "bookingId", b.ID, "validator", validator)
	return &b, nil
}

// Resolve finds the booking behind a QR payload: exact QR match first, then
// the id formats older ticket images encode.
func (v *ValidatorService) Resolve(ctx context.Context, qrPayload string) (*models.Booking, error) {
	qr := strings.TrimSpace(qrPayload)
	if qr == "" {
		return nil, status.Invalid("qrCode", "is required")
	}

	b, err := v.bookings.FindByQR(ctx, qr)
	if err == nil {
		return b, nil
	}
	if !status.IsNotFound(err) {
		return nil, err
	}

	for _, id := range CandidateIDs(qr) {
		b, err := v.bookings.Get(ctx, id)
		if err == nil {
			return b, nil
		}
		if !status.IsNotFound(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("ticket %q: %w", qr, status.ErrNotFound)
}

var qrPrefixes = []string{models.QRPrefix, "TICKET:", "ID:"}

// CandidateIDs extracts the booking ids a scanned string may encode, most
// specific format first.
func CandidateIDs(qr string) []string {
	var out []string
	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" {
			return
		}
		for _, seen := range out {
			if seen == id {
				return
			}
		}
		out = append(out, id)
	}

	if strings.HasPrefix(qr, "{") {
		var doc struct {
			ID        string `json:"id"`
			BookingID string `json:"bookingId"`
			QRCode    string `json:"qrCode"`
		}
		if json.Unmarshal([]byte(qr), &doc) == nil {
			add(doc.BookingID)
			add(doc.ID)
			if doc.QRCode != "" {
				for _, id := range CandidateIDs(doc.QRCode) {
					add(id)
				}
			}
		}
		return out
	}

	if u, err := url.Parse(qr); err == nil && (u.Scheme == "http" || u.Scheme == "https" || strings.HasPrefix(qr, "/")) {
		add(u.Query().Get("id"))
		add(u.Query().Get("bookingId"))
		if i := strings.Index(u.Path, "/tickets/"); i >= 0 {
			add(strings.Trim(u.Path[i+len("/tickets/"):], "/"))
		}
		return out
	}

	if strings.Contains(qr, "=") {
		raw := qr
		if i := strings.Index(raw, "?"); i >= 0 {
			raw = raw[i+1:]
		}
		if q, err := url.ParseQuery(raw); err == nil {
			add(q.Get("id"))
			add(q.Get("bookingId"))
			return out
		}
	}

	upper := strings.ToUpper(qr)
	for _, p := range qrPrefixes {
		if strings.HasPrefix(upper, p) {
			add(qr[len(p):])
		}
	}
	add(qr)
	return out
}

func (v *ValidatorService) track(err error) {
	var used *status.AlreadyUsedError
	switch {
	case err == nil:
		monitoring.TrackScan("validated")
	case errors.As(err, &used):
		monitoring.TrackScan("already_used")
	case errors.Is(err, status.ErrPaymentNotConfirmed):
		monitoring.TrackScan("not_paid")
	case errors.Is(err, status.ErrTicketCancelled):
		monitoring.TrackScan("cancelled")
	case status.IsNotFound(err):
		monitoring.TrackScan("not_found")
	default:
		monitoring.TrackScan("error")
	}
}
