package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/alem-hub/habit-engine/config"
	"github.com/alem-hub/habit-engine/internal/app"
	"github.com/alem-hub/habit-engine/internal/infrastructure/persistence/postgres"
)

var errNoDatabase = errors.New("migrations need STORE_DRIVER=postgres and DATABASE_URL")

// MigrateCmd groups the schema migration commands.
type MigrateCmd struct {
	Up     MigrateUpCmd     `cmd:"" help:"Apply pending migrations." default:"1"`
	Status MigrateStatusCmd `cmd:"" help:"Show applied and pending migrations."`
	Down   MigrateDownCmd   `cmd:"" help:"Revert the last applied migration."`
}

// MigrateUpCmd applies pending migrations.
type MigrateUpCmd struct{}

func (c *MigrateUpCmd) Run(ctx *Context) error {
	return withMigrator(ctx, func(m *postgres.Migrator) error {
		count, err := m.Migrate(ctx.Ctx)
		if err != nil {
			return err
		}
		if count == 0 {
			ctx.printf("✓ Schema is up to date\n")
			return nil
		}
		ctx.printf("✓ Applied %d migration(s)\n", count)
		return nil
	})
}

// MigrateStatusCmd lists migrations.
type MigrateStatusCmd struct{}

func (c *MigrateStatusCmd) Run(ctx *Context) error {
	return withMigrator(ctx, func(m *postgres.Migrator) error {
		status, err := m.Status(ctx.Ctx)
		if err != nil {
			return err
		}
		type row struct {
			Version   int        `json:"version"`
			Name      string     `json:"name"`
			AppliedAt *time.Time `json:"applied_at,omitempty"`
		}
		rows := make([]row, 0, len(status))
		for _, mig := range status {
			r := row{Version: mig.Version, Name: mig.Name}
			if mig.IsApplied {
				at := mig.AppliedAt
				r.AppliedAt = &at
			}
			rows = append(rows, r)
		}

		return ctx.emit(rows, func() {
			for _, mig := range status {
				state := "pending"
				if mig.IsApplied {
					state = "applied " + mig.AppliedAt.Format("2006-01-02 15:04")
				}
				ctx.printf("%03d  %-28s %s\n", mig.Version, mig.Name, state)
			}
		})
	})
}

// MigrateDownCmd reverts one migration.
type MigrateDownCmd struct{}

func (c *MigrateDownCmd) Run(ctx *Context) error {
	return withMigrator(ctx, func(m *postgres.Migrator) error {
		version, err := m.Rollback(ctx.Ctx)
		if err != nil {
			return err
		}
		if version == 0 {
			ctx.printf("Nothing to revert\n")
			return nil
		}
		ctx.printf("✓ Reverted migration %03d\n", version)
		return nil
	})
}

func withMigrator(ctx *Context, fn func(*postgres.Migrator) error) error {
	if ctx.Config.Database.Driver != config.DriverPostgres || ctx.Config.Database.URL == "" {
		return errNoDatabase
	}

	conn, err := app.OpenPostgres(ctx.Ctx, ctx.Config.Database)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := fn(postgres.NewMigrator(conn)); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
