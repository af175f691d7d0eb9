package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the PatchPilot server and worker.
// It is loaded once at startup and passed down explicitly; nothing in the
// pipeline reads process-wide state after Load returns.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Engine   EngineConfig
	Git      GitConfig
	GitHub   GitHubConfig
	CI       CIConfig
	Worker   WorkerConfig
	Pipeline PipelineConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// EngineConfig describes the external AI code-editing CLI.
type EngineConfig struct {
	Command string
	Args    []string
	Timeout time.Duration
}

type GitConfig struct {
	AuthorName  string
	AuthorEmail string
	// RepoBase is where working copies live when a repository is registered
	// without an explicit local path.
	RepoBase string
}

type GitHubConfig struct {
	APIBaseURL string
	Timeout    time.Duration
}

// CIConfig bounds the two CI waits: the pre-push workflow check on the
// target branch and the post-push commit-status poll on the new branch.
type CIConfig struct {
	WaitForCI        bool
	StatusTimeout    time.Duration
	StatusInterval   time.Duration
	WorkflowTimeout  time.Duration
	WorkflowInterval time.Duration
	MaxPendingPolls  int
}

type WorkerConfig struct {
	Enabled      bool
	PollInterval time.Duration
}

// PipelineConfig carries the per-deployment switches for the change cycle.
// DryRun forces every engine run into dry-run mode and skips push, CI, and PR.
type PipelineConfig struct {
	AutoPush bool
	CreatePR bool
	DryRun   bool
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("PATCHPILOT_PORT", 8080),
			Env:  envString("PATCHPILOT_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Engine: EngineConfig{
			Command: envString("ENGINE_COMMAND", "aider"),
			Args:    envList("ENGINE_ARGS", []string{"--yes", "--auto-commits"}),
			Timeout: envDurationSecs("ENGINE_TIMEOUT_SECS", 300*time.Second),
		},
		Git: GitConfig{
			AuthorName:  envString("GIT_AUTHOR_NAME", "patchpilot"),
			AuthorEmail: envString("GIT_AUTHOR_EMAIL", "patchpilot@localhost"),
			RepoBase:    envString("GIT_REPO_BASE", "/var/lib/patchpilot/repos"),
		},
		GitHub: GitHubConfig{
			APIBaseURL: envString("GITHUB_API_BASE_URL", "https://api.github.com"),
			Timeout:    envDuration("GITHUB_API_TIMEOUT", 30*time.Second),
		},
		CI: CIConfig{
			WaitForCI:        envBool("CI_WAIT_FOR_STATUS", true),
			StatusTimeout:    envDurationSecs("CI_STATUS_TIMEOUT_SECS", 2*time.Minute),
			StatusInterval:   envDurationSecs("CI_STATUS_INTERVAL_SECS", 10*time.Second),
			WorkflowTimeout:  envDurationSecs("CI_WORKFLOW_TIMEOUT_SECS", 5*time.Minute),
			WorkflowInterval: envDurationSecs("CI_WORKFLOW_INTERVAL_SECS", 15*time.Second),
			MaxPendingPolls:  envInt("CI_MAX_PENDING_POLLS", 3),
		},
		Worker: WorkerConfig{
			Enabled:      envBool("WORKER_ENABLED", true),
			PollInterval: envDurationSecs("WORKER_POLL_INTERVAL_SECS", 5*time.Second),
		},
		Pipeline: PipelineConfig{
			AutoPush: envBool("PIPELINE_AUTO_PUSH", true),
			CreatePR: envBool("PIPELINE_CREATE_PR", true),
			DryRun:   envBool("PIPELINE_DRY_RUN", false),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Engine.Command == "" {
		return fmt.Errorf("ENGINE_COMMAND must not be empty")
	}

	if !strings.HasPrefix(c.GitHub.APIBaseURL, "http://") && !strings.HasPrefix(c.GitHub.APIBaseURL, "https://") {
		return fmt.Errorf("GITHUB_API_BASE_URL must start with http:// or https://, got %q", c.GitHub.APIBaseURL)
	}

	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("WORKER_POLL_INTERVAL_SECS must be positive")
	}

	if c.CI.MaxPendingPolls < 1 {
		return fmt.Errorf("CI_MAX_PENDING_POLLS must be at least 1")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	parts := strings.Fields(v)
	if len(parts) == 0 {
		return defaultVal
	}
	return parts
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
