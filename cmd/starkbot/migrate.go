package main

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/starkbot/starkbot/internal/config"
	"github.com/starkbot/starkbot/internal/sessions"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect the session store's schema migrations",
	}
	cmd.AddCommand(newMigrateUpCmd())
	cmd.AddCommand(newMigrateStatusCmd())
	return cmd
}

func openMigrator(cfg *config.Config) (*sessions.Migrator, *sql.DB, error) {
	if cfg.Database.URL == "" {
		return nil, nil, fmt.Errorf("database.url is not configured; migrations only apply to the postgres session store")
	}
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	migrator, err := sessions.NewMigrator(db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("build migrator: %w", err)
	}
	return migrator, db, nil
}

func newMigrateUpCmd() *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations (all, unless --steps limits it)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(rootConfigPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			migrator, db, err := openMigrator(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			if err := migrator.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("ensure schema_migrations table: %w", err)
			}
			applied, err := migrator.Up(ctx, steps)
			if err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
			for _, id := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", id)
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "already up to date")
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "Maximum number of migrations to apply (0 = all pending)")
	return cmd
}

func newMigrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(rootConfigPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			migrator, db, err := openMigrator(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			if err := migrator.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("ensure schema_migrations table: %w", err)
			}
			applied, all, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("migration status: %w", err)
			}
			appliedIDs := make(map[string]bool, len(applied))
			for _, a := range applied {
				appliedIDs[a.ID] = true
				fmt.Fprintf(cmd.OutOrStdout(), "applied   %s (%s)\n", a.ID, a.AppliedAt.Format("2006-01-02T15:04:05Z07:00"))
			}
			for _, m := range all {
				if !appliedIDs[m.ID] {
					fmt.Fprintf(cmd.OutOrStdout(), "pending   %s\n", m.ID)
				}
			}
			return nil
		},
	}
}
