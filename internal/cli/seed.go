package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cadenza-io/cadenza/internal/config"
	"github.com/cadenza-io/cadenza/internal/database"
	"github.com/cadenza-io/cadenza/internal/jobs"
	"github.com/cadenza-io/cadenza/internal/schedule"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load projects and jobs from a YAML file",
	Long: `Load projects and job definitions from a YAML file.

Projects are upserted. Jobs are created through the same validation as
the API; a job whose project already has a job with the same name is
skipped, so re-running seed is safe.

Example file:

  projects:
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
        url: https://reports.internal/run`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "jobs.yaml", "Seed file to load")

	rootCmd.AddCommand(seedCmd)
}

type seedProject struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

type seedJob struct {
	ProjectID string `yaml:"project_id"`
	OwnerID   string `yaml:"owner_id"`
	Name      string `yaml:"name"`
	Cadence   string `yaml:"cadence"`
	DayOfWeek *int   `yaml:"day_of_week"`
	Hour      int    `yaml:"run_at_hour"`
	Minute    int    `yaml:"run_at_minute"`
	Timezone  string `yaml:"timezone"`

	DSTAmbiguousPolicy string `yaml:"dst_ambiguous_policy"`
	DSTInvalidPolicy   string `yaml:"dst_invalid_policy"`
	CatchUpMode        string `yaml:"catch_up_mode"`

	RetryMaxAttempts       int `yaml:"retry_max_attempts"`
	RetryBackoffSeconds    int `yaml:"retry_backoff_seconds"`
	RetryMaxBackoffSeconds int `yaml:"retry_max_backoff_seconds"`

	Config  map[string]any `yaml:"config"`
	StartAt *time.Time     `yaml:"start_at"`
}

type seedDocument struct {
	Projects []seedProject `yaml:"projects"`
	Jobs     []seedJob     `yaml:"jobs"`
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: cfgFile})
	if err != nil {
		log.Warn().Err(err).Msg("No config file found, using defaults")
		cfg = config.Default()
	}

	data, err := os.ReadFile(seedFile)
	if err != nil {
		return fmt.Errorf("reading seed file: %w", err)
	}

	var doc seedDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing %s: %w", seedFile, err)
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	store := jobs.NewStore(db)
	resolver := schedule.NewResolver()
	service := jobs.NewService(db, store, resolver, nil)

	ctx := context.Background()

	for _, p := range doc.Projects {
		project := &jobs.Project{ID: p.ID, Name: p.Name, Timezone: p.Timezone}
		if err := store.UpsertProject(ctx, project); err != nil {
			return fmt.Errorf("seeding project %q: %w", p.Name, err)
		}
		log.Info().Str("project_id", project.ID).Str("name", project.Name).Msg("Project upserted")
	}

	created, skipped := 0, 0
	for _, j := range doc.Jobs {
		exists, err := jobExists(ctx, service, j.ProjectID, j.Name)
		if err != nil {
			return err
		}
		if exists {
			log.Debug().Str("project_id", j.ProjectID).Str("name", j.Name).Msg("Job already exists, skipping")
			skipped++
			continue
		}

		params, err := j.toCreateParams()
		if err != nil {
			return fmt.Errorf("seeding job %q: %w", j.Name, err)
		}
		job, err := service.Create(ctx, params)
		if err != nil {
			return fmt.Errorf("seeding job %q: %w", j.Name, err)
		}
		log.Info().Str("job_id", job.ID).Str("name", job.Name).Msg("Job created")
		created++
	}

	log.Info().Int("created", created).Int("skipped", skipped).Msg("Seed complete")
	return nil
}

func jobExists(ctx context.Context, service *jobs.Service, projectID, name string) (bool, error) {
	existing, err := service.List(ctx, jobs.ListFilter{ProjectID: projectID})
	if err != nil {
		return false, fmt.Errorf("listing jobs for project %q: %w", projectID, err)
	}
	for _, job := range existing {
		if job.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (j seedJob) toCreateParams() (jobs.CreateJobParams, error) {
	params := jobs.CreateJobParams{
		ProjectID:              j.ProjectID,
		OwnerID:                j.OwnerID,
		Name:                   j.Name,
		Cadence:                j.Cadence,
		DayOfWeek:              j.DayOfWeek,
		Hour:                   j.Hour,
		Minute:                 j.Minute,
		Timezone:               j.Timezone,
		DSTAmbiguousPolicy:     j.DSTAmbiguousPolicy,
		DSTInvalidPolicy:       j.DSTInvalidPolicy,
		CatchUpMode:            j.CatchUpMode,
		RetryMaxAttempts:       j.RetryMaxAttempts,
		RetryBackoffSeconds:    j.RetryBackoffSeconds,
		RetryMaxBackoffSeconds: j.RetryMaxBackoffSeconds,
		StartAt:                j.StartAt,
	}

	if len(j.Config) > 0 {
		raw, err := json.Marshal(j.Config)
		if err != nil {
			return params, fmt.Errorf("encoding config: %w", err)
		}
		params.Config = raw
	}
	return params, nil
}
