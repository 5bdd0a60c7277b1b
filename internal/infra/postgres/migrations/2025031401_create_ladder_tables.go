package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed 0001_create_ladder_tables.sql
var createLadderTablesSQL string

var Migrations = migrate.NewMigrations()

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(createLadderTablesSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.Exec(`
				DROP TABLE IF EXISTS player_prefs;
				DROP TABLE IF EXISTS event_players;
				DROP TABLE IF EXISTS events;
				DROP TABLE IF EXISTS vocab`)
			return err
		},
	)
}
