package models

import (
	"strings"
	"time"
)

type PassType string

const (
	PassSingleA PassType = "SINGLE_A"
	PassSingleB PassType = "SINGLE_B"
	PassGroup5  PassType = "GROUP5"
)

// priceTable holds the per-entry price of each pass class.
// A GROUP5 purchase materializes five bookings at this price each.
var priceTable = map[PassType]int64{
	PassSingleA: 5000,
	PassSingleB: 10000,
	PassGroup5:  4000,
}

func (p PassType) Valid() bool {
	_, ok := priceTable[p]
	return ok
}

// Price returns the per-entry price of the pass, 0 for unknown passes.
func (p PassType) Price() int64 {
	return priceTable[p]
}

// GroupSize is the number of names (and bookings) one purchase of the pass covers.
func (p PassType) GroupSize() int {
	if p == PassGroup5 {
		return 5
	}
	return 1
}

// Amount is what the payer is charged for one purchase of the pass.
func (p PassType) Amount() int64 {
	return p.Price() * int64(p.GroupSize())
}

type Operator string

const (
	OperatorMobileA Operator = "MOBILE_A"
	OperatorMobileB Operator = "MOBILE_B"
	OperatorCash    Operator = "CASH"
)

var Operators = []Operator{OperatorMobileA, OperatorMobileB, OperatorCash}

func (o Operator) Valid() bool {
	for _, op := range Operators {
		if op == o {
			return true
		}
	}
	return false
}

// Mobile reports whether the operator settles through the payment gateway.
func (o Operator) Mobile() bool {
	return o == OperatorMobileA || o == OperatorMobileB
}

type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingPaid      BookingStatus = "PAID"
	BookingValidated BookingStatus = "VALIDATED"
	BookingCancelled BookingStatus = "CANCELLED"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingPending:   {BookingPaid, BookingCancelled},
	BookingPaid:      {BookingValidated, BookingCancelled},
	BookingValidated: {},
	BookingCancelled: {},
}

func (s BookingStatus) Valid() bool {
	_, ok := bookingTransitions[s]
	return ok
}

// CanTransitionTo reports whether the status may move forward to next.
func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, to := range bookingTransitions[s] {
		if to == next {
			return true
		}
	}
	return false
}

// Settled reports whether a booking in this status counts toward revenue.
func (s BookingStatus) Settled() bool {
	return s == BookingPaid || s == BookingValidated
}

// QRPrefix is prepended to the booking id to form the QR payload.
const QRPrefix = "TICKET-"

func QRCodeFor(id string) string {
	return QRPrefix + id
}

type Booking struct {
	ID            string        `json:"id"`
	FullName      string        `json:"fullName"`
	Phone         string        `json:"phone"`
	PassType      PassType      `json:"passType"`
	Operator      Operator      `json:"operator"`
	Price         int64         `json:"price"`
	Status        BookingStatus `json:"status"` // PENDING, PAID, VALIDATED, CANCELLED
	QRCode        string        `json:"qrCode"`
	TransactionID string        `json:"transactionId,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	PaidAt        *time.Time    `json:"paidAt,omitempty"`
	ValidatedAt   *time.Time    `json:"validatedAt,omitempty"`
	ValidatedBy   string        `json:"validatedBy,omitempty"`
	CancelledAt   *time.Time    `json:"cancelledAt,omitempty"`
}

// IndexFields lists the secondary lookups the ledger keeps for bookings.
func (b *Booking) IndexFields() map[string]string {
	return map[string]string{
		"status":        string(b.Status),
		"phone":         b.Phone,
		"qrCode":        b.QRCode,
		"transactionId": b.TransactionID,
	}
}

type BookingInput struct {
	FullName string   `json:"fullName"`
	Phone    string   `json:"phone"`
	PassType PassType `json:"passType"`
	Operator Operator `json:"operator"`
}

// NormalizePhone strips formatting and the national prefix so that the same
// subscriber number always maps to the same lookup key.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 12 && strings.HasPrefix(digits, "237") {
		digits = digits[3:]
	}
	return digits
}
