package models

import (
	"encoding/json"
	"time"
)

type TransactionStatus string

const (
	TransactionPending TransactionStatus = "PENDING"
	TransactionSuccess TransactionStatus = "SUCCESS"
	TransactionFailed  TransactionStatus = "FAILED"
)

func (s TransactionStatus) Valid() bool {
	return s == TransactionPending || s == TransactionSuccess || s == TransactionFailed
}

func (s TransactionStatus) Terminal() bool {
	return s == TransactionSuccess || s == TransactionFailed
}

// TransactionMetadata carries everything needed to materialize the bookings
// once the payment succeeds. It is written once, when the transaction opens.
type TransactionMetadata struct {
	Phone    string   `json:"phone"`
	PassType PassType `json:"passType"`
	Operator Operator `json:"operator"`
	Names    []string `json:"names"`
}

type Transaction struct {
	ID          string               `json:"id"`
	BookingID   string               `json:"bookingId"`
	Amount      int64                `json:"amount"`
	Status      TransactionStatus    `json:"status"` // PENDING, SUCCESS, FAILED
	Provider    string               `json:"provider"`
	CreatedAt   time.Time            `json:"createdAt"`
	UpdatedAt   time.Time            `json:"updatedAt"`
	Metadata    *TransactionMetadata `json:"metadata,omitempty"`
	RawResponse json.RawMessage      `json:"rawResponse,omitempty"`
	BookingIDs  []string             `json:"bookingIds,omitempty"`

	// Set when a successful payment could not be attributed to any booking.
	Unresolved       bool       `json:"unresolved,omitempty"`
	UnresolvedAt     *time.Time `json:"unresolvedAt,omitempty"`
	UnresolvedReason string     `json:"unresolvedReason,omitempty"`
}

func (t *Transaction) IndexFields() map[string]string {
	fields := map[string]string{
		"status":    string(t.Status),
		"bookingId": t.BookingID,
	}
	if t.Unresolved {
		fields["unresolved"] = "true"
	}
	return fields
}
