package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/iGETsense/Devil-POOl-sub000/internal/ledger"
	"github.com/iGETsense/Devil-POOl-sub000/models"
	"github.com/iGETsense/Devil-POOl-sub000/monitoring"
)

const (
	counterTotalBookings  = "totalBookings"
	counterTotalRevenue   = "totalRevenue"
	counterPaidCount      = "paidCount"
	counterValidatedCount = "validatedCount"
	counterPendingCount   = "pendingCount"
	counterLastUpdated    = "lastUpdated"
	counterRevenuePrefix  = "revenue."

	statsLockTTL = 10 * time.Second
)

// StatsService keeps the per-event aggregate as a set of atomic counters in
// the ledger. Apply is the real-time path; Recalculate rebuilds the numbers
// from the booking set and corrects any drift.
//
// Every booking write that moves the aggregate runs under Guard, so a
// recalculation never sees a booking transition without its delta.
type StatsService struct {
	store   ledger.Store
	eventID string
	now     func() time.Time
}

func NewStatsService(store ledger.Store, eventID string) *StatsService {
	if eventID == "" {
		eventID = "default"
	}
	return &StatsService{store: store, eventID: eventID, now: time.Now}
}

func (s *StatsService) key(name string) string {
	return fmt.Sprintf("%s:%s:%s", ledger.Stats, s.eventID, name)
}

// Guard serializes aggregate-changing booking writes with Recalculate. The
// returned func releases it.
func (s *StatsService) Guard(ctx context.Context) (func(), error) {
	release, err := s.store.Lock(ctx, s.key("lock"), statsLockTTL)
	if err != nil {
		return nil, fmt.Errorf("stats guard: %w", err)
	}
	return release, nil
}

func counterNames() []string {
	names := []string{counterTotalBookings, counterTotalRevenue, counterPaidCount, counterValidatedCount, counterPendingCount}
	for _, op := range models.Operators {
		names = append(names, counterRevenuePrefix+string(op))
	}
	return names
}

func deltaCounters(d models.StatsDelta) map[string]int64 {
	out := map[string]int64{
		counterTotalBookings:  d.TotalBookings,
		counterTotalRevenue:   d.TotalRevenue,
		counterPaidCount:      d.PaidCount,
		counterValidatedCount: d.ValidatedCount,
		counterPendingCount:   d.PendingCount,
	}
	if d.Operator != "" {
		out[counterRevenuePrefix+string(d.Operator)] = d.OperatorRevenue
	}
	return out
}

func statsCounters(st models.Stats) map[string]int64 {
	out := map[string]int64{
		counterTotalBookings:  st.TotalBookings,
		counterTotalRevenue:   st.TotalRevenue,
		counterPaidCount:      st.PaidCount,
		counterValidatedCount: st.ValidatedCount,
		counterPendingCount:   st.PendingCount,
	}
	for _, op := range models.Operators {
		out[counterRevenuePrefix+string(op)] = st.RevenueByOperator[op]
	}
	return out
}

// Apply adds one transition's delta to the counters in a single atomic batch.
func (s *StatsService) Apply(ctx context.Context, d models.StatsDelta) error {
	if d.IsZero() {
		return nil
	}

	deltas := map[string]int64{}
	for name, v := range deltaCounters(d) {
		if v != 0 {
			deltas[s.key(name)] = v
		}
	}
	if err := s.store.IncrementMany(ctx, deltas); err != nil {
		return fmt.Errorf("stats apply: %w", err)
	}
	return s.touch(ctx)
}

func (s *StatsService) touch(ctx context.Context) error {
	return s.store.SetCounters(ctx, map[string]int64{s.key(counterLastUpdated): s.now().UnixMilli()})
}

func (s *StatsService) Current(ctx context.Context) (models.Stats, error) {
	names := append(counterNames(), counterLastUpdated)
	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = s.key(n)
	}

	values, err := s.store.Counters(ctx, keys)
	if err != nil {
		return models.Stats{}, fmt.Errorf("stats current: %w", err)
	}
	get := func(name string) int64 { return values[s.key(name)] }

	st := models.Stats{
		TotalBookings:     get(counterTotalBookings),
		TotalRevenue:      get(counterTotalRevenue),
		PaidCount:         get(counterPaidCount),
		ValidatedCount:    get(counterValidatedCount),
		PendingCount:      get(counterPendingCount),
		RevenueByOperator: map[models.Operator]int64{},
	}
	for _, op := range models.Operators {
		st.RevenueByOperator[op] = get(counterRevenuePrefix + string(op))
	}
	if ms := get(counterLastUpdated); ms > 0 {
		st.LastUpdated = time.UnixMilli(ms).UTC()
	}
	return st, nil
}

type DriftReport struct {
	Before    models.Stats     `json:"before"`
	After     models.Stats     `json:"after"`
	Drift     map[string]int64 `json:"drift"`
	Corrected bool             `json:"corrected"`
}

// Recalculate recomputes the aggregate from the booking set returned by load
// and folds the difference into the live counters. The scan, the counter read
// and the correction all happen under Guard.
func (s *StatsService) Recalculate(ctx context.Context, load func(context.Context) ([]*models.Booking, error)) (*DriftReport, error) {
	release, err := s.Guard(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	bookings, err := load(ctx)
	if err != nil {
		return nil, fmt.Errorf("stats recalculate: %w", err)
	}
	before, err := s.Current(ctx)
	if err != nil {
		return nil, err
	}
	want := models.ComputeStats(bookings, s.now())

	have := statsCounters(before)
	drift := map[string]int64{}
	deltas := map[string]int64{}
	for name, v := range statsCounters(want) {
		if d := v - have[name]; d != 0 {
			drift[name] = d
			deltas[s.key(name)] = d
		}
	}

	report := &DriftReport{Before: before, After: want, Drift: drift}
	if len(deltas) > 0 {
		if err := s.store.IncrementMany(ctx, deltas); err != nil {
			return nil, fmt.Errorf("stats recalculate: %w", err)
		}
		report.Corrected = true
		for name, d := range drift {
			monitoring.TrackStatsDrift(name, d)
		}
		slog.Warn("stats drift corrected", "event", s.eventID, "drift", drift)
	}
	if err := s.touch(ctx); err != nil {
		return nil, err
	}
	return report, nil
}
