package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

// admins are the box-office staff allowed on /api/admin and /api/finance.
func init() {
	m.Register(func(app core.App) error {
		if _, err := app.FindCollectionByNameOrId("admins"); err == nil {
			return nil
		}

		collection := core.NewAuthCollection("admins")
		collection.Fields.Add(
			&core.TextField{Name: "name", Max: 120},
		)
		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("admins")
		if err != nil {
			return nil
		}
		return app.Delete(collection)
	})
}
