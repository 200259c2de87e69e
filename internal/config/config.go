package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	LogDir     string `toml:"log_dir"`
	ExportDir  string `toml:"export_dir"`
}

// Database contains the SQLite record store location.
type Database struct {
	Path string `toml:"path"`
}

// ObjectStore contains S3-compatible storage connection settings.
type ObjectStore struct {
	Endpoint      string `toml:"endpoint"`
	AccessKey     string `toml:"access_key"`
	SecretKey     string `toml:"secret_key"`
	Region        string `toml:"region"`
	UseSSL        bool   `toml:"use_ssl"`
	DatasetBucket string `toml:"dataset_bucket"`
	ModelBucket   string `toml:"model_bucket"`
}

// Catalog contains settings for the external dataset catalog used during
// acquisition.
type Catalog struct {
	BaseURL         string `toml:"base_url"`
	Username        string `toml:"username"`
	APIKey          string `toml:"api_key"`
	MaxResults      int    `toml:"max_results"`
	RequestTimeout  int    `toml:"request_timeout"`
	DownloadTimeout int    `toml:"download_timeout"`
	MaxSizeGB       int    `toml:"max_size_gb"`
}

// Planner contains LLM connection settings for turning free-form task
// descriptions into training plans.
type Planner struct {
	Enabled        bool   `toml:"enabled"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Trainer contains settings for the external training command.
type Trainer struct {
	Binary          string `toml:"binary"`
	Epochs          int    `toml:"epochs"`
	Device          string `toml:"device"`
	TrainTimeout    int    `toml:"train_timeout"`
	EvaluateTimeout int    `toml:"evaluate_timeout"`
}

// Workflow contains daemon timing and intervals.
type Workflow struct {
	PollInterval          int `toml:"poll_interval"`
	ErrorRetryInterval    int `toml:"error_retry_interval"`
	HeartbeatInterval     int `toml:"heartbeat_interval"`
	HeartbeatTimeout      int `toml:"heartbeat_timeout"`
	StagingRetentionHours int `toml:"staging_retention_hours"`
}

// StatusWriteRetry bounds the independent retry loop around record phase
// writes that follow a successful stage body.
type StatusWriteRetry struct {
	MaxAttempts int `toml:"max_attempts"`
	Delay       int `toml:"delay"`
}

// Retry contains the default backoff schedule for fallible I/O operations.
type Retry struct {
	MaxAttempts  int              `toml:"max_attempts"`
	InitialDelay int              `toml:"initial_delay"`
	Multiplier   float64          `toml:"multiplier"`
	StatusWrite  StatusWriteRetry `toml:"status_write"`
}

// Dataset contains the normalization split parameters.
type Dataset struct {
	TrainRatio   float64 `toml:"train_ratio"`
	ValRatio     float64 `toml:"val_ratio"`
	ValFromTrain float64 `toml:"val_from_train"`
	Seed         int64   `toml:"seed"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic          string `toml:"ntfy_topic"`
	RequestTimeout     int    `toml:"request_timeout"`
	Acquisition        bool   `toml:"acquisition"`
	Training           bool   `toml:"training"`
	Evaluation         bool   `toml:"evaluation"`
	Errors             bool   `toml:"errors"`
	DedupWindowSeconds int    `toml:"dedup_window_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for loom.
//
// Configuration sections by subsystem:
//   - Paths: staging, log, and export directories
//   - Database: SQLite record store location
//   - ObjectStore: S3-compatible storage for datasets and model artifacts
//   - Catalog: external dataset catalog credentials and limits
//   - Planner: LLM connection settings for plan generation
//   - Trainer: external training command and timeouts
//   - Workflow: scheduler poll interval and heartbeat settings
//   - Retry: backoff schedule plus the phase-write retry bounds
//   - Dataset: split ratios and shuffle seed for normalization
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Database      Database      `toml:"database"`
	ObjectStore   ObjectStore   `toml:"object_store"`
	Catalog       Catalog       `toml:"catalog"`
	Planner       Planner       `toml:"planner"`
	Trainer       Trainer       `toml:"trainer"`
	Workflow      Workflow      `toml:"workflow"`
	Retry         Retry         `toml:"retry"`
	Dataset       Dataset       `toml:"dataset"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/loom/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath("~/.config/loom/config.toml")
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("loom.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.StagingDir,
		c.Paths.LogDir,
		c.Paths.ExportDir,
	}
	if dbDir := filepath.Dir(c.Database.Path); dbDir != "" && dbDir != "." {
		dirs = append(dirs, dbDir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// TrainerBinary returns the external training executable name.
func (c *Config) TrainerBinary() string {
	if binary := strings.TrimSpace(c.Trainer.Binary); binary != "" {
		return binary
	}
	return defaultTrainerBinary
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	sample := sampleConfig

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// LLMConfig contains common LLM connection settings.
type LLMConfig struct {
	APIKey         string
	BaseURL        string
	Model          string
	Referer        string
	Title          string
	TimeoutSeconds int
}

// PlannerLLM returns the LLM connection settings for plan generation.
func (c *Config) PlannerLLM() LLMConfig {
	return LLMConfig{
		APIKey:         strings.TrimSpace(c.Planner.APIKey),
		BaseURL:        strings.TrimSpace(c.Planner.BaseURL),
		Model:          strings.TrimSpace(c.Planner.Model),
		Referer:        strings.TrimSpace(c.Planner.Referer),
		Title:          strings.TrimSpace(c.Planner.Title),
		TimeoutSeconds: c.Planner.TimeoutSeconds,
	}
}
