package models

import "time"

type Stats struct {
	TotalBookings     int64              `json:"totalBookings"`
	TotalRevenue      int64              `json:"totalRevenue"`
	RevenueByOperator map[Operator]int64 `json:"revenueByOperator"`
	ValidatedCount    int64              `json:"validatedCount"`
	PendingCount      int64              `json:"pendingCount"`
	PaidCount         int64              `json:"paidCount"`
	LastUpdated       time.Time          `json:"lastUpdated"`
}

// StatsDelta is the change one booking transition makes to the aggregate.
type StatsDelta struct {
	TotalBookings   int64
	TotalRevenue    int64
	Operator        Operator
	OperatorRevenue int64
	PendingCount    int64
	PaidCount       int64
	ValidatedCount  int64
}

func (d StatsDelta) IsZero() bool {
	return d.TotalBookings == 0 && d.TotalRevenue == 0 && d.OperatorRevenue == 0 &&
		d.PendingCount == 0 && d.PaidCount == 0 && d.ValidatedCount == 0
}

// contribution is what a single booking in the given status adds to the aggregate.
func contribution(status BookingStatus, price int64, op Operator) StatsDelta {
	d := StatsDelta{Operator: op}
	switch status {
	case BookingPending:
		d.PendingCount = 1
	case BookingPaid:
		d.PaidCount = 1
	case BookingValidated:
		d.ValidatedCount = 1
	}
	if status.Settled() {
		d.TotalBookings = 1
		d.TotalRevenue = price
		d.OperatorRevenue = price
	}
	return d
}

// TransitionDelta returns the aggregate change for a booking moving from one
// status to another. An empty from means the booking is being created.
func TransitionDelta(b *Booking, from, to BookingStatus) StatsDelta {
	before := contribution(from, b.Price, b.Operator)
	after := contribution(to, b.Price, b.Operator)
	return StatsDelta{
		TotalBookings:   after.TotalBookings - before.TotalBookings,
		TotalRevenue:    after.TotalRevenue - before.TotalRevenue,
		Operator:        b.Operator,
		OperatorRevenue: after.OperatorRevenue - before.OperatorRevenue,
		PendingCount:    after.PendingCount - before.PendingCount,
		PaidCount:       after.PaidCount - before.PaidCount,
		ValidatedCount:  after.ValidatedCount - before.ValidatedCount,
	}
}

// ComputeStats recomputes the aggregate from the full booking set. It uses the
// same per-booking contribution as the incremental path so both converge.
func ComputeStats(bookings []*Booking, now time.Time) Stats {
	s := Stats{RevenueByOperator: map[Operator]int64{}, LastUpdated: now}
	for _, op := range Operators {
		s.RevenueByOperator[op] = 0
	}
	for _, b := range bookings {
		c := contribution(b.Status, b.Price, b.Operator)
		s.TotalBookings += c.TotalBookings
		s.TotalRevenue += c.TotalRevenue
		s.RevenueByOperator[b.Operator] += c.OperatorRevenue
		s.PendingCount += c.PendingCount
		s.PaidCount += c.PaidCount
		s.ValidatedCount += c.ValidatedCount
	}
	return s
}

// Equal compares the counters, ignoring LastUpdated.
func (s Stats) Equal(o Stats) bool {
	if s.TotalBookings != o.TotalBookings || s.TotalRevenue != o.TotalRevenue ||
		s.ValidatedCount != o.ValidatedCount || s.PendingCount != o.PendingCount ||
		s.PaidCount != o.PaidCount {
		return false
	}
	for _, op := range Operators {
		if s.RevenueByOperator[op] != o.RevenueByOperator[op] {
			return false
		}
	}
	return true
}
