package config

import (
	"fmt"
	"time"
)

// Config holds every daemon setting, read from FERRY_* env vars.
type Config struct {
	Env      string `envconfig:"ENV" default:"development"`
	HTTPPort int    `envconfig:"HTTP_PORT" default:"8080"`

	// Repo selects the record backend: "memory" or "postgres".
	Repo string `envconfig:"REPO" default:"memory"`
	// Executor selects the transfer collaborator: "noop" or "http".
	Executor string `envconfig:"EXECUTOR" default:"http"`

	DocumentsDir string `envconfig:"DOCUMENTS_DIR" default:"./data/documents"`
	TemporaryDir string `envconfig:"TEMPORARY_DIR" default:"./data/tmp"`
	SupportDir   string `envconfig:"SUPPORT_DIR" default:"./data/support"`

	// MaxConcurrent caps simultaneous transfers in the HTTP executor.
	MaxConcurrent int64 `envconfig:"MAX_CONCURRENT" default:"4"`
	// BandwidthLimit is bytes/sec shared across transfers; 0 is unlimited.
	BandwidthLimit int64 `envconfig:"BANDWIDTH_LIMIT" default:"0"`
	// Collision handles an existing target file: error, overwrite or rename.
	Collision string `envconfig:"COLLISION" default:"error"`

	RetryBase time.Duration `envconfig:"RETRY_BASE" default:"500ms"`
	RetryMax  time.Duration `envconfig:"RETRY_MAX" default:"30s"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	// LogFile enables rotating file output when set; empty logs to stdout.
	LogFile       string `envconfig:"LOG_FILE" default:""`
	LogMaxSizeMB  int    `envconfig:"LOG_MAX_SIZE_MB" default:"50"`
	LogMaxBackups int    `envconfig:"LOG_MAX_BACKUPS" default:"3"`
	LogMaxAgeDays int    `envconfig:"LOG_MAX_AGE_DAYS" default:"14"`
}

// Validate checks the configuration and returns the first invalid setting.
func (c *Config) Validate() error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	switch c.Repo {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unknown repo backend: %q", c.Repo)
	}
	switch c.Executor {
	case "noop", "http":
	default:
		return fmt.Errorf("unknown executor: %q", c.Executor)
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("max concurrent must be positive: %d", c.MaxConcurrent)
	}
	if c.BandwidthLimit < 0 {
		return fmt.Errorf("bandwidth limit must not be negative: %d", c.BandwidthLimit)
	}
	if c.RetryBase <= 0 || c.RetryMax < c.RetryBase {
		return fmt.Errorf("invalid retry window: base %s max %s", c.RetryBase, c.RetryMax)
	}
	if c.DocumentsDir == "" || c.TemporaryDir == "" || c.SupportDir == "" {
		return fmt.Errorf("base directories must not be empty")
	}
	return nil
}
