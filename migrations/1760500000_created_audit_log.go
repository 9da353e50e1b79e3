package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("audit_log")

		// superusers only
		collection.ListRule = nil
		collection.ViewRule = nil
		collection.CreateRule = nil
		collection.UpdateRule = nil
		collection.DeleteRule = nil

		collection.Fields.Add(
			&core.TextField{Name: "ref", Required: true, Max: 64},
			&core.SelectField{
				Name:      "action",
				Required:  true,
				MaxSelect: 1,
				Values:    []string{"force_pay", "cancel", "unresolved_settlement", "withdraw"},
			},
			&core.TextField{Name: "actor", Max: 120},
			&core.TextField{Name: "subject", Max: 120},
			&core.JSONField{Name: "detail", MaxSize: 1 << 16},
			&core.AutodateField{Name: "created", OnCreate: true},
		)

		collection.AddIndex("idx_audit_log_ref", true, "ref", "")
		collection.AddIndex("idx_audit_log_created", false, "created", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("audit_log")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
