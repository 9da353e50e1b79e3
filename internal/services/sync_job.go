package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iGETsense/Devil-POOl-sub000/internal/services/gateway"
	"github.com/iGETsense/Devil-POOl-sub000/models"
	"github.com/iGETsense/Devil-POOl-sub000/monitoring"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var ErrSyncRunning = errors.New("sync: a run is already in progress")

type SyncReport struct {
	RunID    string        `json:"runId"`
	Checked  int           `json:"checked"`
	Updated  int           `json:"updated"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// SyncJob polls the gateway for every transaction still waiting on a final
// status and settles what it learns.
type SyncJob struct {
	reconcile   *ReconcileService
	gateway     gateway.Gateway
	interval    time.Duration
	concurrency int

	running sync.Mutex
}

func NewSyncJob(reconcile *ReconcileService, gw gateway.Gateway, interval time.Duration, concurrency int) *SyncJob {
	if interval <= 0 {
		interval = time.Minute
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &SyncJob{
		reconcile:   reconcile,
		gateway:     gw,
		interval:    interval,
		concurrency: concurrency,
	}
}

// Start runs the job every interval until ctx is done.
func (j *SyncJob) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Run(ctx); err != nil && !errors.Is(err, ErrSyncRunning) {
				slog.Error("SyncJob.Run()", "error", err)
			}
		}
	}
}

// Run checks every candidate once. One failing check never stops the others.
// Overlapping runs are refused with ErrSyncRunning.
func (j *SyncJob) Run(ctx context.Context) (*SyncReport, error) {
	if !j.running.TryLock() {
		return nil, ErrSyncRunning
	}
	defer j.running.Unlock()

	start := time.Now()
	report := &SyncReport{RunID: uuid.NewString()}

	candidates, err := j.candidates(ctx)
	if err != nil {
		return nil, err
	}

	var updated, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(j.concurrency)

	for _, txID := range candidates {
		g.Go(func() error {
			changed, err := j.check(ctx, txID)
			switch {
			case err != nil:
				failed.Add(1)
				monitoring.TrackSyncItem("failed")
				slog.Error("sync: check transaction", "runId", report.RunID, "transactionId", txID, "error", err)
			case changed:
				updated.Add(1)
				monitoring.TrackSyncItem("updated")
			default:
				monitoring.TrackSyncItem("unchanged")
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Checked = len(candidates)
	report.Updated = int(updated.Load())
	report.Failed = int(failed.Load())
	report.Duration = time.Since(start)
	monitoring.TrackSyncDuration(report.Duration)

	slog.Info("sync run finished", "runId", report.RunID, "checked", report.Checked, "updated", report.Updated, "failed", report.Failed, "duration", report.Duration)
	return report, nil
}

func (j *SyncJob) check(ctx context.Context, txID string) (bool, error) {
	tx, err := j.reconcile.transactions.Get(ctx, txID)
	if err != nil {
		return false, err
	}

	// A stored SUCCESS is final; only the tickets are missing.
	reported, raw := tx.Status, json.RawMessage(nil)
	if tx.Status != models.TransactionSuccess {
		res, err := j.gateway.CheckStatus(ctx, txID)
		if err != nil {
			return false, err
		}
		reported, raw = res.Status, res.Raw
	}
	settlement, err := j.reconcile.settle(ctx, SourceSync, txID, reported, raw)
	if err != nil {
		return false, err
	}
	return settlement.StatusChanged || settlement.Result == SettlementCreated, nil
}

// candidates collects the transactions of PENDING bookings, PENDING
// transactions that have no booking yet and SUCCESS transactions whose
// bookings were never written.
func (j *SyncJob) candidates(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}

	bookings, err := j.reconcile.bookings.ListPendingWithTransaction(ctx)
	if err != nil {
		return nil, err
	}
	for _, b := range bookings {
		seen[b.TransactionID] = true
	}

	pending, err := j.reconcile.transactions.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	for _, tx := range pending {
		seen[tx.ID] = true
	}

	unissued, err := j.reconcile.transactions.ListUnmaterialized(ctx)
	if err != nil {
		return nil, err
	}
	for _, tx := range unissued {
		seen[tx.ID] = true
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
