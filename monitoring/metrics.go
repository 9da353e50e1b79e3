package monitoring

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/iGETsense/Devil-POOl-sub000/internal/ledger"
	"github.com/iGETsense/Devil-POOl-sub000/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	settlements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlements_total",
			Help: "Settlement attempts by source and result",
		},
		[]string{"source", "result"},
	)

	syncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_job_items_total",
			Help: "Transactions handled by the sync job",
		},
		[]string{"outcome"},
	)

	syncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_job_duration_seconds",
			Help:    "Duration of one sync job pass",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	gatewayLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Payment gateway call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	gatewayBreaker = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_circuit_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	scans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_scans_total",
			Help: "Entry-gate scans by outcome",
		},
		[]string{"outcome"},
	)

	overrides = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admin_overrides_total",
			Help: "Manual admin actions on bookings",
		},
		[]string{"action"},
	)

	statsDrift = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stats_drift",
			Help: "Recomputed minus incremental value at the last recalculation",
		},
		[]string{"counter"},
	)

	transactionsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "transactions_by_status",
			Help: "Current number of transactions per status",
		},
		[]string{"status"},
	)

	unresolvedSettlements = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "unresolved_settlements",
			Help: "Successful payments with no attributable booking",
		},
	)
)

func TrackSettlement(source, result string) {
	settlements.WithLabelValues(source, result).Inc()
}

func TrackSyncItem(outcome string) {
	syncRuns.WithLabelValues(outcome).Inc()
}

func TrackSyncDuration(d time.Duration) {
	syncDuration.Observe(d.Seconds())
}

func TrackGatewayCall(operation string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	gatewayLatency.WithLabelValues(operation, status).Observe(d.Seconds())
}

func TrackBreakerState(name string, state int) {
	gatewayBreaker.WithLabelValues(name).Set(float64(state))
}

func TrackScan(outcome string) {
	scans.WithLabelValues(outcome).Inc()
}

func TrackOverride(action string) {
	overrides.WithLabelValues(action).Inc()
}

func TrackStatsDrift(counter string, drift int64) {
	statsDrift.WithLabelValues(counter).Set(float64(drift))
}

// Monitor samples ledger-wide gauges on an interval.
type Monitor struct {
	store    ledger.Store
	interval time.Duration
}

func NewMonitor(store ledger.Store, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Monitor{store: store, interval: interval}
}

func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.collect(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) collect(ctx context.Context) {
	for _, s := range []models.TransactionStatus{models.TransactionPending, models.TransactionSuccess, models.TransactionFailed} {
		ids, err := m.store.Query(ctx, ledger.Transactions, "status", string(s))
		if err != nil {
			slog.Error("monitor: query transactions", "status", s, "error", err)
			continue
		}
		transactionsByStatus.WithLabelValues(string(s)).Set(float64(len(ids)))
	}

	ids, err := m.store.Query(ctx, ledger.Transactions, "unresolved", "true")
	if err != nil {
		slog.Error("monitor: query unresolved", "error", err)
		return
	}
	unresolvedSettlements.Set(float64(len(ids)))
}

// Serve exposes /metrics on its own listener until ctx is done.
func Serve(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("metrics server stopped", "error", err)
	}
}
