package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/haatos/multici/internal/util"
)

var Config *Configuration

type HoursDuration time.Duration

func NewHoursDuration(hours int64) HoursDuration {
	return HoursDuration(time.Duration(hours) * time.Hour)
}

func (hd HoursDuration) MarshalJSON() ([]byte, error) {
	hours := float64(time.Duration(hd)) / float64(time.Hour)
	return json.Marshal(hours)
}

func (hd *HoursDuration) UnmarshalJSON(data []byte) error {
	var hours float64
	if err := json.Unmarshal(data, &hours); err != nil {
		return err
	}
	*hd = HoursDuration(hours * float64(time.Hour))
	return nil
}

type SecondsDuration time.Duration

func NewSecondsDuration(seconds int64) SecondsDuration {
	return SecondsDuration(time.Duration(seconds) * time.Second)
}

func (sd SecondsDuration) MarshalJSON() ([]byte, error) {
	seconds := float64(time.Duration(sd)) / float64(time.Second)
	return json.Marshal(seconds)
}

func (sd *SecondsDuration) UnmarshalJSON(data []byte) error {
	var seconds float64
	if err := json.Unmarshal(data, &seconds); err != nil {
		return err
	}
	*sd = SecondsDuration(seconds * float64(time.Second))
	return nil
}

const (
	ExecutorLocal = "local"
	ExecutorSSH   = "ssh"
)

// ExecutorConfig declares a named custom executor. Jobs select it with
// an environment of kind custom whose image is the executor name.
type ExecutorConfig struct {
	Name           string   `json:"name"`
	Type           string   `json:"type"`
	Host           string   `json:"host,omitempty"`
	User           string   `json:"user,omitempty"`
	KeyFile        string   `json:"key_file,omitempty"`
	EncryptedKey   string   `json:"encrypted_key,omitempty"`
	KnownHostsFile string   `json:"known_hosts_file,omitempty"`
	Workspace      string   `json:"workspace,omitempty"`
	Tiers          []string `json:"tiers,omitempty"`
}

type ContainerdConfig struct {
	Enabled     bool   `json:"enabled"`
	Address     string `json:"address"`
	Namespace   string `json:"namespace"`
	Snapshotter string `json:"snapshotter"`
	// MemoryMB maps each container resource tier to a memory limit. Zero
	// means unlimited.
	MemoryMB map[string]uint64 `json:"memory_mb"`
}

type Configuration struct {
	QueueSize          int64            `json:"queue_size"`
	Workers            int              `json:"workers"`
	MaxParallelJobs    int              `json:"max_parallel_jobs"`
	DefaultStepTimeout SecondsDuration  `json:"default_step_timeout_seconds"`
	RunRetentionHours  HoursDuration    `json:"run_retention_hours"`
	ResourceTiers      []string         `json:"resource_tiers"`
	Containerd         ContainerdConfig `json:"containerd"`
	Executors          []ExecutorConfig `json:"executors"`
	LogArchiveURL      string           `json:"log_archive_url"`
}

func DefaultConfiguration() *Configuration {
	return &Configuration{
		QueueSize:          10,
		Workers:            2,
		MaxParallelJobs:    0,
		DefaultStepTimeout: NewSecondsDuration(60 * 60),
		RunRetentionHours:  NewHoursDuration(30 * 24),
		ResourceTiers:      []string{"small", "medium", "large"},
		Containerd: ContainerdConfig{
			Address:     "/run/containerd/containerd.sock",
			Namespace:   AppName,
			Snapshotter: "overlayfs",
			MemoryMB:    map[string]uint64{"small": 1024, "medium": 4096, "large": 16384},
		},
	}
}

func (c *Configuration) Validate() error {
	var errs []error
	if c.QueueSize < 1 {
		errs = append(errs, errors.New("queue_size must be at least 1"))
	}
	if c.Workers < 1 {
		errs = append(errs, errors.New("workers must be at least 1"))
	}
	if c.MaxParallelJobs < 0 {
		errs = append(errs, errors.New("max_parallel_jobs must not be negative"))
	}
	if c.DefaultStepTimeout <= 0 {
		errs = append(errs, errors.New("default_step_timeout_seconds must be positive"))
	}
	names := make([]string, 0, len(c.Executors))
	for i, e := range c.Executors {
		switch {
		case e.Name == "":
			errs = append(errs, fmt.Errorf("executor %d: name is required", i+1))
		case slices.Contains(names, e.Name):
			errs = append(errs, fmt.Errorf("executor %q: declared more than once", e.Name))
		}
		names = append(names, e.Name)
		switch e.Type {
		case ExecutorLocal:
		case ExecutorSSH:
			if e.Host == "" || e.User == "" {
				errs = append(errs, fmt.Errorf("executor %q: ssh executors need host and user", e.Name))
			}
			if (e.KeyFile == "") == (e.EncryptedKey == "") {
				errs = append(errs, fmt.Errorf("executor %q: set exactly one of key_file and encrypted_key", e.Name))
			}
		default:
			errs = append(errs, fmt.Errorf("executor %q: unknown type %q", e.Name, e.Type))
		}
	}
	return errors.Join(errs...)
}

// InitializeConfiguration reads the configuration at path into Config,
// writing the defaults there first when the file does not exist.
func InitializeConfiguration(path string) error {
	cfg, err := LoadConfiguration(path)
	if err != nil {
		return err
	}
	Config = cfg
	return nil
}

func LoadConfiguration(path string) (*Configuration, error) {
	cfg := DefaultConfiguration()

	configFileExists, err := util.PathExists(path)
	if err != nil {
		return nil, err
	}
	if !configFileExists {
		if err := writeConfiguration(path, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	configBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(configBytes, cfg); err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %w", path, err)
	}
	return cfg, nil
}

func UpdateConfiguration(path string, config *Configuration) error {
	if err := config.Validate(); err != nil {
		return err
	}
	if err := writeConfiguration(path, config); err != nil {
		return err
	}
	Config = config
	return nil
}

func writeConfiguration(path string, config *Configuration) error {
	b, err := json.MarshalIndent(config, "", "    ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
