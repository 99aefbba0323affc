// Package config loads the gas configuration.
//
// Sources, highest precedence first: runtime overrides (flags), environment
// (GAS_ prefix, '.' replaced by '_', e.g. GAS_QUEUES_WAIT_TIME), the YAML
// config file, and the defaults below.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Backends.
const (
	BackendAWS   = "aws"
	BackendLocal = "local"
)

// Launchers.
const (
	LauncherProcess = "process"
	LauncherInline  = "inline"
)

// Config is the explicit configuration handed to every component.
type Config struct {
	Backend   string          `mapstructure:"backend" yaml:"backend"`
	AWS       AWSConfig       `mapstructure:"aws" yaml:"aws"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Queues    QueuesConfig    `mapstructure:"queues" yaml:"queues"`
	Topics    TopicsConfig    `mapstructure:"topics" yaml:"topics"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Vault     VaultConfig     `mapstructure:"vault" yaml:"vault"`
	Sweep     SweepConfig     `mapstructure:"sweep" yaml:"sweep"`
	Reaper    ReaperConfig    `mapstructure:"reaper" yaml:"reaper"`
	Execution ExecutionConfig `mapstructure:"execution" yaml:"execution"`
	Profiles  ProfilesConfig  `mapstructure:"profiles" yaml:"profiles"`
	Local     LocalConfig     `mapstructure:"local" yaml:"local"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Health    HealthConfig    `mapstructure:"health" yaml:"health"`
}

// AWSConfig configures the shared AWS SDK configuration.
type AWSConfig struct {
	Region          string `mapstructure:"region" yaml:"region,omitempty"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Profile         string `mapstructure:"profile" yaml:"profile,omitempty"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"-"`
	IMDSRegion      bool   `mapstructure:"imds_region" yaml:"imds_region"`
	ForcePathStyle  bool   `mapstructure:"force_path_style" yaml:"force_path_style"`
}

// StoreConfig configures the job store.
type StoreConfig struct {
	Table      string `mapstructure:"table" yaml:"table"`
	UserIndex  string `mapstructure:"user_index" yaml:"user_index"`
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path,omitempty"`
}

// QueuesConfig names the queues and how they are polled. With the aws
// backend the names are SQS queue URLs.
type QueuesConfig struct {
	Requests          string        `mapstructure:"requests" yaml:"requests"`
	Archive           string        `mapstructure:"archive" yaml:"archive"`
	Restore           string        `mapstructure:"restore" yaml:"restore"`
	WaitTime          time.Duration `mapstructure:"wait_time" yaml:"wait_time"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout" yaml:"visibility_timeout"`
	MaxMessages       int           `mapstructure:"max_messages" yaml:"max_messages"`
	MaxReceives       int           `mapstructure:"max_receives" yaml:"max_receives"`
	NotReadyDelay     time.Duration `mapstructure:"not_ready_delay" yaml:"not_ready_delay"`
}

// TopicsConfig names the notification topics. With the aws backend the names
// are SNS topic ARNs.
type TopicsConfig struct {
	Requests string `mapstructure:"requests" yaml:"requests"`
	Results  string `mapstructure:"results" yaml:"results"`
	Archive  string `mapstructure:"archive" yaml:"archive"`
	Restore  string `mapstructure:"restore" yaml:"restore"`
}

// StorageConfig configures hot storage.
type StorageConfig struct {
	InputsBucket  string `mapstructure:"inputs_bucket" yaml:"inputs_bucket"`
	ResultsBucket string `mapstructure:"results_bucket" yaml:"results_bucket"`
	Prefix        string `mapstructure:"prefix" yaml:"prefix"`
	LocalDir      string `mapstructure:"local_dir" yaml:"local_dir,omitempty"`
}

// VaultConfig configures cold storage.
type VaultConfig struct {
	Name                string        `mapstructure:"name" yaml:"name"`
	RetrievalTier       string        `mapstructure:"retrieval_tier" yaml:"retrieval_tier"`
	LocalDir            string        `mapstructure:"local_dir" yaml:"local_dir,omitempty"`
	LocalRetrievalDelay time.Duration `mapstructure:"local_retrieval_delay" yaml:"local_retrieval_delay"`
}

// SweepConfig configures the archive sweeper.
type SweepConfig struct {
	GracePeriod time.Duration `mapstructure:"grace_period" yaml:"grace_period"`
	Interval    time.Duration `mapstructure:"interval" yaml:"interval"`
	Pattern     string        `mapstructure:"pattern" yaml:"pattern"`
	RateLimit   float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// ReaperConfig configures the stale-job reaper.
type ReaperConfig struct {
	StaleAfter  time.Duration `mapstructure:"stale_after" yaml:"stale_after"`
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	Interval    time.Duration `mapstructure:"interval" yaml:"interval"`
}

// ExecutionConfig configures the execution stage.
type ExecutionConfig struct {
	Command  []string `mapstructure:"command" yaml:"command"`
	JobsDir  string   `mapstructure:"jobs_dir" yaml:"jobs_dir"`
	Launcher string   `mapstructure:"launcher" yaml:"launcher"`
}

// ProfilesConfig locates the user profile directory.
type ProfilesConfig struct {
	File string `mapstructure:"file" yaml:"file"`
}

// LocalConfig configures the local backend's fan-out and queues.
type LocalConfig struct {
	// Subscriptions maps topic names to the queues subscribed to them.
	Subscriptions map[string][]string `mapstructure:"subscriptions" yaml:"subscriptions"`
	PollInterval  time.Duration       `mapstructure:"poll_interval" yaml:"poll_interval"`
	QueuePath     string              `mapstructure:"queue_path" yaml:"queue_path,omitempty"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// HealthConfig configures the health endpoint. An empty address disables it.
type HealthConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr,omitempty"`
}

// Validate checks the fields every command depends on.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Backend {
	case BackendAWS:
		if c.Store.Table == "" {
			add("store.table is required")
		}
		if c.Storage.InputsBucket == "" || c.Storage.ResultsBucket == "" {
			add("storage.inputs_bucket and storage.results_bucket are required")
		}
	case BackendLocal:
		if c.Storage.LocalDir == "" {
			add("storage.local_dir is required")
		}
		if c.Store.SQLitePath == "" {
			add("store.sqlite_path is required")
		}
		if c.Vault.LocalDir == "" {
			add("vault.local_dir is required")
		}
	default:
		add("backend must be %q or %q, got %q", BackendAWS, BackendLocal, c.Backend)
	}

	switch c.Execution.Launcher {
	case LauncherProcess, LauncherInline:
	default:
		add("execution.launcher must be %q or %q, got %q", LauncherProcess, LauncherInline, c.Execution.Launcher)
	}
	if c.Execution.JobsDir == "" {
		add("execution.jobs_dir is required")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	if c.Queues.WaitTime < 0 || c.Queues.WaitTime > 20*time.Second {
		add("queues.wait_time must be between 0 and 20s")
	}
	if c.Queues.MaxReceives < 0 {
		add("queues.max_receives must not be negative")
	}
	if c.Sweep.RateLimit < 0 {
		add("sweep.rate_limit must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
