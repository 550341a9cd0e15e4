package internal

const (
	AppName           = "multici"
	DotEnvPath        = "./.env"
	ConfigFileName    = "config.json"
	MigrationsDir     = "migrations"
	DBTimestampLayout = "2006-01-02 15:04:05"
	LogArchivePrefix  = "runs"
	TriggerManual     = "manual"
	TriggerSchedule   = "schedule"
	TriggerAPI        = "api"
)

// Version is set at build time with -ldflags "-X github.com/haatos/multici/internal.Version=...".
var Version = "dev"
