package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/haatos/multici/internal"
	"github.com/haatos/multici/internal/settings"
)

// RootCmd holds the global flags and the subcommands of multici.
var RootCmd struct {
	Quiet      bool          `short:"q" help:"Suppress informational output."`
	Debug      bool          `short:"d" help:"Enable debug output."`
	LogFormat  string        `help:"Log format." enum:"text,json" default:"text"`
	Config     string        `short:"c" help:"Override the configuration file path." type:"path" placeholder:"PATH"`
	EnvFile    string        `help:"Dotenv file to read before the environment." type:"path" default:"${dotenv}" placeholder:"PATH"`
	Run        RunCmd        `cmd:"" help:"Run one workflow of a pipeline file and exit with its status."`
	Validate   ValidateCmd   `cmd:"" help:"Check a pipeline file and plan every workflow."`
	Serve      ServeCmd      `cmd:"" help:"Serve the HTTP API for a pipeline file."`
	EncryptKey EncryptKeyCmd `cmd:"" name:"encrypt-key" help:"Encrypt an ssh private key for the executor configuration."`
	Version    VersionCmd    `cmd:"" help:"Show version information."`
}

// ExitError carries a process exit status out of a subcommand without
// printing an error message.
type ExitError struct {
	Code int
}

func (e ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Execute parses arguments, configures logging and runs the selected
// subcommand. It returns the process exit status.
func Execute() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kongCtx := kong.Parse(&RootCmd,
		kong.Name(internal.AppName),
		kong.Description("Multi-platform build and test pipeline orchestrator."),
		kong.UsageOnError(),
		kong.Vars{
			"version": internal.Version,
			"dotenv":  internal.DotEnvPath,
		},
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	slog.SetDefault(newLogger())

	if err := loadSettings(); err != nil {
		slog.Error("failed to load settings", "error", err)
		return 1
	}

	err := kongCtx.Run()
	var exitErr ExitError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &exitErr):
		return exitErr.Code
	default:
		slog.Error(err.Error())
		return 1
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if RootCmd.Debug {
		level = slog.LevelDebug
	} else if RootCmd.Quiet {
		level = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: level}
	if RootCmd.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func loadSettings() error {
	if err := settings.ReadDotenv(RootCmd.EnvFile); err != nil {
		return err
	}
	settings.Settings = settings.NewSettings()
	if RootCmd.Config != "" {
		settings.Settings.ConfigPath = RootCmd.Config
	}
	return nil
}

// loadConfiguration reads the configuration file into internal.Config.
func loadConfiguration() error {
	if err := internal.InitializeConfiguration(settings.Settings.ConfigPath); err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	return nil
}
