package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	AuditForcePay             = "force_pay"
	AuditCancel               = "cancel"
	AuditUnresolvedSettlement = "unresolved_settlement"
	AuditWithdraw             = "withdraw"
)

// AuditEntry is one operator-visible record of a manual or exceptional action.
type AuditEntry struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	Actor     string         `json:"actor"`
	Subject   string         `json:"subject"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry) error
	Recent(ctx context.Context, limit int) ([]AuditEntry, error)
}

func newAuditEntry(action, actor, subject string, detail map[string]any) AuditEntry {
	return AuditEntry{
		ID:        uuid.NewString(),
		Action:    action,
		Actor:     actor,
		Subject:   subject,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
}

// MemoryAudit keeps entries in process; used by tests and the memory store driver.
type MemoryAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func NewMemoryAudit() *MemoryAudit {
	return &MemoryAudit{}
}

func (a *MemoryAudit) Record(_ context.Context, entry AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *MemoryAudit) Recent(_ context.Context, limit int) ([]AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]AuditEntry, 0, len(a.entries))
	for i := len(a.entries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, a.entries[i])
	}
	return out, nil
}
