package settings

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/adrg/xdg"
)

const envPrefix = "MULTICI_"

var Settings *AppSettings

// NewSettings reads the MULTICI_* environment. Paths default to the XDG
// base directories of the current user.
func NewSettings() *AppSettings {
	settings := AppSettings{
		SQLiteDatabase: getEnvOrDefault(envPrefix+"DB_PATH", "file:"+filepath.Join(xdg.DataHome, "multici", "db.sqlite")),
		Port:           getEnvOrDefault(envPrefix+"PORT", ":8080"),
		Workspace:      getEnvOrDefault(envPrefix+"WORKSPACE", filepath.Join(xdg.StateHome, "multici", "workspace")),
		ConfigPath:     getEnvOrDefault(envPrefix+"CONFIG", filepath.Join(xdg.ConfigHome, "multici", "config.json")),
		HashKey:        os.Getenv(envPrefix + "HASH_KEY"),
		APIToken:       os.Getenv(envPrefix + "API_TOKEN"),
	}
	if !strings.HasPrefix(settings.Port, ":") {
		settings.Port = ":" + settings.Port
	}
	return &settings
}

func getEnvOrDefault(key, defaultValue string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	return value
}

type AppSettings struct {
	SQLiteDatabase string
	Port           string
	Workspace      string
	ConfigPath     string
	HashKey        string
	// APIToken guards the mutating HTTP endpoints when set.
	APIToken string
}

func (as *AppSettings) BaseURL() string {
	return fmt.Sprintf("http://localhost%s", as.Port)
}

// DatabaseDir is the directory holding the sqlite file, or "" for
// in-memory databases.
func (as *AppSettings) DatabaseDir() string {
	path := strings.TrimPrefix(as.SQLiteDatabase, "file:")
	if path == "" || strings.HasPrefix(path, ":memory:") {
		return ""
	}
	path, _, _ = strings.Cut(path, "?")
	return filepath.Dir(path)
}

func (as *AppSettings) SQLiteDbString(readonly bool) string {
	params := make(url.Values)
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "synchronous(NORMAL)")
	params.Add("_pragma", "cache_size(-20000)")
	params.Add("_pragma", "foreign_keys(1)")
	if readonly {
		params.Add("mode", "ro")
	} else {
		params.Add("_txlock", "immediate")
		params.Add("mode", "rwc")
	}

	return as.SQLiteDatabase + "?" + params.Encode()
}

var dotenvLine = regexp.MustCompile(`^[^0-9#][A-Z0-9_]+=.+$`)

// ReadDotenv sets the variables of a dotenv file that are not already set
// in the environment. A missing file is not an error.
func ReadDotenv(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error opening dotenv: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !dotenvLine.MatchString(line) {
			continue
		}
		name, value, _ := strings.Cut(line, "=")
		name = strings.TrimSpace(name)
		value = strings.Trim(strings.TrimSpace(value), `"`)
		if _, ok := os.LookupEnv(name); ok {
			continue
		}
		if err := os.Setenv(name, value); err != nil {
			return err
		}
	}
	return scanner.Err()
}
