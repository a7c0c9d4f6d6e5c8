package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Initialize a new Cadenza deployment",
	Long: `Initialize a new Cadenza deployment directory.

Creates:
  - cadenza.yaml    Configuration file
  - jobs.yaml       Example seed file for projects and jobs
  - data/           Database directory

Then:
  cadenza seed --file jobs.yaml
  cadenza serve`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite existing files")

	rootCmd.AddCommand(initCmd)
}

const starterConfig = `server:
  host: 0.0.0.0
  port: 8090

database:
  path: data/cadenza.db
  wal_mode: true
  foreign_keys: true
  busy_timeout: 5s

scheduler:
  enabled: true
  poll_interval: 10s
  batch_limit: 50
  # worker_id defaults to the hostname

alerts:
  # Failure and dead-letter notifications are logged unless a webhook
  # URL is configured.
  # webhook_url: https://hooks.internal/cadenza
  timeout: 10s
  rate_per_second: 1
  burst: 5

logging:
  level: info
`

const starterSeed = `projects:
  - id: analytics
    name: Analytics
    timezone: America/New_York

jobs:
  - project_id: analytics
    owner_id: data-team
    name: nightly-report
    cadence: daily
    run_at_hour: 6
    run_at_minute: 30
    retry_max_attempts: 3
    retry_backoff_seconds: 60
    retry_max_backoff_seconds: 900
    config:
      url: https://reports.internal/run
      payload:
        report: daily

  - project_id: analytics
    owner_id: data-team
    name: weekly-rollup
    cadence: weekly
    day_of_week: 1
    run_at_hour: 9
    run_at_minute: 0
    catch_up_mode: replay_missed
    retry_max_attempts: 5
    retry_backoff_seconds: 120
    retry_max_backoff_seconds: 3600
`

const starterGitignore = `# Cadenza data
data/
*.db
*.db-wal
*.db-shm
`

func runInit(cmd *cobra.Command, args []string) error {
	projectDir := "."
	if len(args) > 0 {
		projectDir = args[0]
	}

	if projectDir != "." {
		if err := os.MkdirAll(projectDir, 0o755); err != nil {
			return fmt.Errorf("creating project directory: %w", err)
		}
		log.Info().Str("directory", projectDir).Msg("Created project directory")
	}

	files := map[string]string{
		"cadenza.yaml": starterConfig,
		"jobs.yaml":    starterSeed,
		".gitignore":   starterGitignore,
	}

	if !initForce {
		var existing []string
		for name := range files {
			if _, err := os.Stat(filepath.Join(projectDir, name)); err == nil {
				existing = append(existing, name)
			}
		}
		if len(existing) > 0 {
			return fmt.Errorf("files already exist: %s (use --force to overwrite)", strings.Join(existing, ", "))
		}
	}

	if err := os.MkdirAll(filepath.Join(projectDir, "data"), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	for name, content := range files {
		path := filepath.Join(projectDir, name)
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
		log.Info().Str("file", name).Msg("Created")
	}

	fmt.Println()
	fmt.Println("Cadenza initialized. Next steps:")
	if projectDir != "." {
		fmt.Printf("  cd %s\n", projectDir)
	}
	fmt.Println("  cadenza seed --file jobs.yaml")
	fmt.Println("  cadenza serve")
	return nil
}
