// Parses flags, loads settings and configuration, and runs the multici
// subcommands.
//
// The command accepts the following global flags:
//
//	-q, --quiet        Suppress informational output.
//	-d, --debug        Enable debug output, including step output lines.
//	    --log-format   Log format, text or json.
//	-c, --config       Configuration file path.
//	    --env-file     Dotenv file read before the environment settings.
//
// Flags override the MULTICI_* environment settings. After parsing, the
// global slog logger is replaced with one matching the selected level and
// format before the subcommand runs.
package cli
