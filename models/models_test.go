package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBookingStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to BookingStatus
		want     bool
	}{
		{BookingPending, BookingPaid, true},
		{BookingPending, BookingCancelled, true},
		{BookingPending, BookingValidated, false},
		{BookingPaid, BookingValidated, true},
		{BookingPaid, BookingCancelled, true},
		{BookingPaid, BookingPending, false},
		{BookingValidated, BookingPaid, false},
		{BookingValidated, BookingCancelled, false},
		{BookingCancelled, BookingPaid, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestPassType_Pricing(t *testing.T) {
	assert.Equal(t, int64(5000), PassSingleA.Amount())
	assert.Equal(t, int64(10000), PassSingleB.Amount())
	assert.Equal(t, 5, PassGroup5.GroupSize())
	assert.Equal(t, int64(4000), PassGroup5.Price())
	assert.Equal(t, int64(20000), PassGroup5.Amount())
	assert.False(t, PassType("VIP").Valid())
	assert.Zero(t, PassType("VIP").Price())
}

func TestNormalizePhone(t *testing.T) {
	tests := map[string]string{
		"670000000":        "670000000",
		"+237 670 000 000": "670000000",
		"237670000000":     "670000000",
		"670-00-00-00":     "670000000",
		"(670) 000 000":    "670000000",
		"12345":            "12345",
		"+44 7700 900 123": "447700900123",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, NormalizePhone(in))
		})
	}
}

func TestTransitionDelta_SumsToComputeStats(t *testing.T) {
	now := time.Now()
	b1 := &Booking{ID: "b1", Price: 5000, Operator: OperatorMobileA}
	b2 := &Booking{ID: "b2", Price: 10000, Operator: OperatorCash}

	steps := []struct {
		b        *Booking
		from, to BookingStatus
	}{
		{b1, "", BookingPending},
		{b2, "", BookingPending},
		{b1, BookingPending, BookingPaid},
		{b2, BookingPending, BookingPaid},
		{b1, BookingPaid, BookingValidated},
		{b2, BookingPaid, BookingCancelled},
	}

	running := Stats{RevenueByOperator: map[Operator]int64{}}
	for _, s := range steps {
		d := TransitionDelta(s.b, s.from, s.to)
		running.TotalBookings += d.TotalBookings
		running.TotalRevenue += d.TotalRevenue
		running.RevenueByOperator[d.Operator] += d.OperatorRevenue
		running.PendingCount += d.PendingCount
		running.PaidCount += d.PaidCount
		running.ValidatedCount += d.ValidatedCount
		s.b.Status = s.to
	}

	want := ComputeStats([]*Booking{b1, b2}, now)
	assert.True(t, want.Equal(running), "incremental %+v != recomputed %+v", running, want)
	assert.Equal(t, int64(1), want.TotalBookings)
	assert.Equal(t, int64(5000), want.TotalRevenue)
	assert.Equal(t, int64(5000), want.RevenueByOperator[OperatorMobileA])
	assert.Zero(t, want.RevenueByOperator[OperatorCash])
	assert.Equal(t, int64(1), want.ValidatedCount)
}

func TestTransitionDelta_NoOp(t *testing.T) {
	b := &Booking{Price: 5000, Operator: OperatorMobileB}
	assert.True(t, TransitionDelta(b, BookingPaid, BookingPaid).IsZero())
}

func TestTransaction_IndexFields(t *testing.T) {
	tx := &Transaction{Status: TransactionPending, BookingID: "BK1"}
	assert.NotContains(t, tx.IndexFields(), "unresolved")

	tx.Unresolved = true
	assert.Equal(t, "true", tx.IndexFields()["unresolved"])
	assert.True(t, TransactionFailed.Terminal())
	assert.False(t, TransactionPending.Terminal())
}
