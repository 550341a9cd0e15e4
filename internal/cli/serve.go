package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/haatos/multici/internal"
	"github.com/haatos/multici/internal/handler"
	"github.com/haatos/multici/internal/loader"
	"github.com/haatos/multici/internal/service"
	"github.com/haatos/multici/internal/settings"
	"github.com/haatos/multici/internal/store"
)

// ServeCmd is the 'multici serve' command.
type ServeCmd struct {
	File string `arg:"" help:"Pipeline file (.yml, .yaml or .hcl)." type:"existingfile"`
	Port string `help:"Override the listen address." placeholder:"ADDR"`
}

// Run serves the HTTP API, runs queued and scheduled workflows and blocks
// until the context is cancelled (e.g. via SIGINT or SIGTERM).
func (c *ServeCmd) Run(ctx context.Context) error {
	if err := loadConfiguration(); err != nil {
		return err
	}
	cfg := internal.Config
	s := settings.Settings
	if c.Port != "" {
		s.Port = c.Port
	}

	p, err := loader.Load(c.File)
	if err != nil {
		return err
	}

	if dir := s.DatabaseDir(); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating database directory: %w", err)
		}
	}
	rwdb, err := store.InitDatabase(false)
	if err != nil {
		return err
	}
	defer rwdb.Close()
	if err := store.RunMigrations(rwdb); err != nil {
		return err
	}
	rdb, err := store.InitDatabase(true)
	if err != nil {
		return err
	}
	defer rdb.Close()

	envs, err := newEnvironments(cfg, s)
	if err != nil {
		return err
	}
	defer envs.Close()

	workflowSvc, err := service.NewWorkflowService(
		p,
		store.NewRunSQLiteStore(rdb, rwdb),
		envs.providers,
		service.NewStepExecutor(time.Duration(cfg.DefaultStepTimeout)),
		service.NewLogReporter(slog.Default()),
		service.WorkflowServiceConfig{
			QueueSize:       cfg.QueueSize,
			MaxParallelJobs: cfg.MaxParallelJobs,
			Retention:       time.Duration(cfg.RunRetentionHours),
		},
	)
	if err != nil {
		return err
	}
	for _, purger := range envs.purgers {
		workflowSvc.AddRunPurger(purger)
	}

	if cfg.LogArchiveURL != "" {
		archive, err := service.OpenLogArchive(ctx, cfg.LogArchiveURL)
		if err != nil {
			return err
		}
		defer archive.Close()
		workflowSvc.SetLogArchive(archive)
	}

	recovered, err := workflowSvc.RecoverRuns(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		slog.Warn("failed runs left unfinished by a previous process", "count", recovered)
	}

	scheduler, err := service.NewScheduler()
	if err != nil {
		return err
	}
	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			slog.Warn("failed to shut down scheduler", "error", err)
		}
	}()
	if err := workflowSvc.ScheduleWorkflows(scheduler); err != nil {
		return err
	}
	if err := workflowSvc.ScheduleDailyCleanUp(scheduler); err != nil {
		return err
	}
	scheduler.Start()

	workflowSvc.StartRunQueue(cfg.Workers)
	defer workflowSvc.Shutdown()

	slog.Info("multici is running", "pipeline", c.File, "workflows", len(p.Workflows), "base_url", s.BaseURL())
	e := handler.NewServer(workflowSvc, s.APIToken, slog.Default())
	return internal.GracefulShutdown(ctx, e, s.Port)
}
