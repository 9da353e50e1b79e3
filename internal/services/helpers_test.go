package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iGETsense/Devil-POOl-sub000/internal/ledger"
	"github.com/iGETsense/Devil-POOl-sub000/internal/services/gateway"
	"github.com/iGETsense/Devil-POOl-sub000/models"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testEventID = "test-event"
	testPhone   = "670000000"
	testPIN     = "4321"
)

// fakeClock advances one second per reading so ordering by time is stable.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 18, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls map[string]int
}

func (n *recordingNotifier) TicketsIssued(_ context.Context, phone string, bookings []*models.Booking) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.calls == nil {
		n.calls = map[string]int{}
	}
	n.calls[phone] += len(bookings)
	return nil
}

func (n *recordingNotifier) issued(phone string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[phone]
}

type testEnv struct {
	store        *ledger.MemoryStore
	sandbox      *gateway.Sandbox
	stats        *StatsService
	transactions *TransactionService
	bookings     *BookingService
	reconcile    *ReconcileService
	validator    *ValidatorService
	audit        *MemoryAudit
	notifier     *recordingNotifier
}

// faultyStore fails the next failCreates creates in family, and every Flag
// call while failFlags is set.
type faultyStore struct {
	ledger.Store

	mu          sync.Mutex
	family      ledger.Family
	failCreates int
	failFlags   bool
}

var errStoreBlip = errors.New("store blip")

func (s *faultyStore) Create(ctx context.Context, family ledger.Family, id string, rec ledger.Record) (bool, error) {
	s.mu.Lock()
	fail := family == s.family && s.failCreates > 0
	if fail {
		s.failCreates--
	}
	s.mu.Unlock()
	if fail {
		return false, errStoreBlip
	}
	return s.Store.Create(ctx, family, id, rec)
}

func (s *faultyStore) Flag(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	fail := s.failFlags
	s.mu.Unlock()
	if fail {
		return false, errStoreBlip
	}
	return s.Store.Flag(ctx, key)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvOn(t, nil)
}

// newTestEnvOn wires the services to wrap(memory store) instead of the memory
// store itself. env.store stays the unwrapped store.
func newTestEnvOn(t *testing.T, wrap func(ledger.Store) ledger.Store) *testEnv {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(testPIN), bcrypt.MinCost)
	require.NoError(t, err)

	clock := newFakeClock()
	memory := ledger.NewMemoryStore()
	var store ledger.Store = memory
	if wrap != nil {
		store = wrap(memory)
	}
	sandbox := gateway.NewSandbox()

	stats := NewStatsService(store, testEventID)
	stats.now = clock.Now
	transactions := NewTransactionService(store, sandbox)
	transactions.now = clock.Now
	bookings := NewBookingService(store, stats)
	bookings.now = clock.Now

	audit := NewMemoryAudit()
	notifier := &recordingNotifier{}
	reconcile := NewReconcileService(store, transactions, bookings, audit, notifier, ReconcileConfig{
		OverridePINHash: string(hash),
		LockTTL:         5 * time.Second,
	})
	validator := NewValidatorService(store, bookings, stats)
	validator.now = clock.Now

	return &testEnv{
		store:        memory,
		sandbox:      sandbox,
		stats:        stats,
		transactions: transactions,
		bookings:     bookings,
		reconcile:    reconcile,
		validator:    validator,
		audit:        audit,
		notifier:     notifier,
	}
}

func (e *testEnv) currentStats(t *testing.T) models.Stats {
	t.Helper()
	st, err := e.stats.Current(context.Background())
	require.NoError(t, err)
	return st
}

func (e *testEnv) listAll(ctx context.Context) ([]*models.Booking, error) {
	return e.bookings.List(ctx, "")
}

func (e *testEnv) createBooking(t *testing.T, pass models.PassType, op models.Operator) *models.Booking {
	t.Helper()
	b, err := e.bookings.Create(context.Background(), models.BookingInput{
		FullName: "Ada Lovelace",
		Phone:    testPhone,
		PassType: pass,
		Operator: op,
	})
	require.NoError(t, err)
	return b
}

func (e *testEnv) paidBooking(t *testing.T) *models.Booking {
	t.Helper()
	b := e.createBooking(t, models.PassSingleA, models.OperatorCash)
	paid, applied, err := e.bookings.MarkAsPaid(context.Background(), b.ID)
	require.NoError(t, err)
	require.True(t, applied)
	return paid
}

func groupNames() []string {
	return []string{"Ama", "Kofi", "Efua", "Yaw", "Akosua"}
}
