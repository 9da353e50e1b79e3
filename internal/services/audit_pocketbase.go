package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
)

const auditCollection = "audit_log"

// PocketBaseAudit persists audit entries in the audit_log collection so they
// survive restarts and show up in the admin UI.
type PocketBaseAudit struct {
	app core.App
}

func NewPocketBaseAudit(app core.App) *PocketBaseAudit {
	return &PocketBaseAudit{app: app}
}

func (a *PocketBaseAudit) Record(_ context.Context, entry AuditEntry) error {
	collection, err := a.app.FindCollectionByNameOrId(auditCollection)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}

	record := core.NewRecord(collection)
	record.Set("ref", entry.ID)
	record.Set("action", entry.Action)
	record.Set("actor", entry.Actor)
	record.Set("subject", entry.Subject)
	record.Set("detail", entry.Detail)

	if err := a.app.Save(record); err != nil {
		return fmt.Errorf("audit save %s: %w", entry.Action, err)
	}
	return nil
}

type auditRow struct {
	Ref     string         `db:"ref"`
	Action  string         `db:"action"`
	Actor   string         `db:"actor"`
	Subject string         `db:"subject"`
	Detail  types.JSONRaw  `db:"detail"`
	Created types.DateTime `db:"created"`
}

func (a *PocketBaseAudit) Recent(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []auditRow
	err := a.app.DB().NewQuery(
		"SELECT ref, action, actor, subject, detail, created FROM " + auditCollection +
			" ORDER BY created DESC LIMIT {:limit}",
	).Bind(dbx.Params{"limit": limit}).WithContext(ctx).All(&rows)
	if err != nil {
		return nil, fmt.Errorf("audit recent: %w", err)
	}

	out := make([]AuditEntry, 0, len(rows))
	for _, r := range rows {
		entry := AuditEntry{
			ID:        r.Ref,
			Action:    r.Action,
			Actor:     r.Actor,
			Subject:   r.Subject,
			CreatedAt: r.Created.Time(),
		}
		if len(r.Detail) > 0 {
			_ = json.Unmarshal(r.Detail, &entry.Detail)
		}
		out = append(out, entry)
	}
	return out, nil
}
