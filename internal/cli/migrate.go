package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cadenza-io/cadenza/internal/config"
	"github.com/cadenza-io/cadenza/internal/database"
	"github.com/cadenza-io/cadenza/internal/database/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Apply all pending migrations to the database and list what is applied.

Migrations are embedded in the binary and applied automatically on
startup; this command exists for applying them ahead of a deploy and
for inspecting the current state.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: cfgFile})
	if err != nil {
		log.Warn().Err(err).Msg("No config file found, using defaults")
		cfg = config.Default()
	}

	// Open applies pending migrations before returning.
	db, err := database.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	applied, err := migrations.GetApplied(context.Background(), db.DB)
	if err != nil {
		return fmt.Errorf("listing applied migrations: %w", err)
	}

	if len(applied) == 0 {
		fmt.Println("No migrations applied")
		return nil
	}

	fmt.Printf("Applied migrations (%d):\n", len(applied))
	for _, m := range applied {
		fmt.Printf("  %s  %s\n", m.ID, m.AppliedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}
