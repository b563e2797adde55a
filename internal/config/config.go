package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the entire application configuration
type Config struct {
	Remote   RemoteConfig   `mapstructure:"remote"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Session  SessionConfig  `mapstructure:"session"`
	Resolver ResolverConfig `mapstructure:"resolver"`
	Transfer TransferConfig `mapstructure:"transfer"`
	Paths    PathsConfig    `mapstructure:"paths"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// RemoteConfig selects and configures the destination remote
type RemoteConfig struct {
	// Kind selects the gateway implementation: "rclone" or "bucket"
	Kind string `mapstructure:"kind"`
	// Name is the rclone remote name, e.g. "gdrive-mirror"
	Name string `mapstructure:"name"`
	// Root is the destination root directory on the remote
	Root string `mapstructure:"root"`
	// BucketURL is the gocloud bucket URL for kind "bucket",
	// e.g. "s3://my-bucket?region=us-east-1" or "file:///srv/mirror"
	BucketURL      string `mapstructure:"bucket_url"`
	RcloneBinary   string `mapstructure:"rclone_binary"`
	CommandTimeout string `mapstructure:"command_timeout"`
	ListTimeout    string `mapstructure:"list_timeout"`
}

// FetchConfig tunes the chunked downloader
type FetchConfig struct {
	Parts                  int    `mapstructure:"parts"`
	RedirectThresholdBytes int64  `mapstructure:"redirect_threshold_bytes"`
	RetryAttempts          int    `mapstructure:"retry_attempts"`
	RetryBackoff           string `mapstructure:"retry_backoff"`
	OverallTimeout         string `mapstructure:"overall_timeout"`
	ProgressInterval       string `mapstructure:"progress_interval"`
	BufferSizeMB           int    `mapstructure:"buffer_size_mb"`
}

// SessionConfig configures credential acquisition for generic downloads
type SessionConfig struct {
	CookieFile      string `mapstructure:"cookie_file"`
	DomainFilter    string `mapstructure:"domain_filter"`
	RefreshCommand  string `mapstructure:"refresh_command"`
	RefreshInterval string `mapstructure:"refresh_interval"`
}

// ResolverConfig configures the external source-resolution command
type ResolverConfig struct {
	Command      string `mapstructure:"command"`
	WorkDir      string `mapstructure:"workdir"`
	ArtifactGlob string `mapstructure:"artifact_glob"`
	Timeout      string `mapstructure:"timeout"`
}

// TransferConfig contains orchestration settings
type TransferConfig struct {
	// VideoContentKinds are dispatched to the resolver command instead of
	// the direct downloader
	VideoContentKinds []string `mapstructure:"video_content_kinds"`
}

// PathsConfig contains local filesystem locations
type PathsConfig struct {
	TempDir   string `mapstructure:"temp_dir"`
	Ledger    string `mapstructure:"ledger"`
	HistoryDB string `mapstructure:"history_db"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from the specified file path
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// Set defaults
	viper.SetDefault("remote.kind", "rclone")
	viper.SetDefault("remote.root", "mirror")
	viper.SetDefault("remote.rclone_binary", "rclone")
	viper.SetDefault("remote.command_timeout", "10m")
	viper.SetDefault("remote.list_timeout", "30s")
	viper.SetDefault("fetch.parts", 16)
	viper.SetDefault("fetch.redirect_threshold_bytes", 10_000)
	viper.SetDefault("fetch.retry_attempts", 3)
	viper.SetDefault("fetch.retry_backoff", "5s")
	viper.SetDefault("fetch.overall_timeout", "15m")
	viper.SetDefault("fetch.progress_interval", "10s")
	viper.SetDefault("fetch.buffer_size_mb", 8)
	viper.SetDefault("session.cookie_file", "cookies.txt")
	viper.SetDefault("session.domain_filter", "")
	viper.SetDefault("session.refresh_command", "")
	viper.SetDefault("session.refresh_interval", "600s")
	viper.SetDefault("resolver.command", "")
	viper.SetDefault("resolver.workdir", ".")
	viper.SetDefault("resolver.artifact_glob", "merged_*.mp4")
	viper.SetDefault("resolver.timeout", "15m")
	viper.SetDefault("transfer.video_content_kinds", []string{"video/mp4"})
	viper.SetDefault("paths.temp_dir", "downloads")
	viper.SetDefault("paths.ledger", "transfer_progress.json")
	viper.SetDefault("paths.history_db", "")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate remote config
	switch c.Remote.Kind {
	case "rclone":
		if c.Remote.Name == "" {
			return fmt.Errorf("remote.name is required for kind rclone")
		}
	case "bucket":
		if c.Remote.BucketURL == "" {
			return fmt.Errorf("remote.bucket_url is required for kind bucket")
		}
	default:
		return fmt.Errorf("invalid remote.kind: %s", c.Remote.Kind)
	}
	if _, err := time.ParseDuration(c.Remote.CommandTimeout); err != nil {
		return fmt.Errorf("invalid remote.command_timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Remote.ListTimeout); err != nil {
		return fmt.Errorf("invalid remote.list_timeout: %w", err)
	}

	// Validate fetch config
	if c.Fetch.Parts < 1 || c.Fetch.Parts > 64 {
		return fmt.Errorf("fetch.parts must be between 1 and 64")
	}
	if c.Fetch.RedirectThresholdBytes < 0 {
		return fmt.Errorf("fetch.redirect_threshold_bytes must not be negative")
	}
	if c.Fetch.RetryAttempts < 1 {
		return fmt.Errorf("fetch.retry_attempts must be at least 1")
	}
	if _, err := time.ParseDuration(c.Fetch.RetryBackoff); err != nil {
		return fmt.Errorf("invalid fetch.retry_backoff: %w", err)
	}
	if _, err := time.ParseDuration(c.Fetch.OverallTimeout); err != nil {
		return fmt.Errorf("invalid fetch.overall_timeout: %w", err)
	}

	// Validate session config
	if _, err := time.ParseDuration(c.Session.RefreshInterval); err != nil {
		return fmt.Errorf("invalid session.refresh_interval: %w", err)
	}

	// Validate resolver config
	if _, err := time.ParseDuration(c.Resolver.Timeout); err != nil {
		return fmt.Errorf("invalid resolver.timeout: %w", err)
	}

	// Validate logging config
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	return nil
}

// GetCommandTimeout returns the remote command timeout as time.Duration
func (c *RemoteConfig) GetCommandTimeout() time.Duration {
	d, _ := time.ParseDuration(c.CommandTimeout)
	if d == 0 {
		return 10 * time.Minute
	}
	return d
}

// GetListTimeout returns the remote list timeout as time.Duration
func (c *RemoteConfig) GetListTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ListTimeout)
	if d == 0 {
		return 30 * time.Second
	}
	return d
}

// GetRetryBackoff returns the fetch retry backoff as time.Duration
func (c *FetchConfig) GetRetryBackoff() time.Duration {
	d, _ := time.ParseDuration(c.RetryBackoff)
	if d == 0 {
		return 5 * time.Second
	}
	return d
}

// GetOverallTimeout returns the per-file fetch ceiling as time.Duration
func (c *FetchConfig) GetOverallTimeout() time.Duration {
	d, _ := time.ParseDuration(c.OverallTimeout)
	if d == 0 {
		return 15 * time.Minute
	}
	return d
}

// GetProgressInterval returns the progress report interval as time.Duration
func (c *FetchConfig) GetProgressInterval() time.Duration {
	d, _ := time.ParseDuration(c.ProgressInterval)
	if d == 0 {
		return 10 * time.Second
	}
	return d
}

// GetRefreshInterval returns the credential refresh interval as time.Duration
func (c *SessionConfig) GetRefreshInterval() time.Duration {
	d, _ := time.ParseDuration(c.RefreshInterval)
	if d == 0 {
		return 600 * time.Second
	}
	return d
}

// GetTimeout returns the resolver invocation timeout as time.Duration
func (c *ResolverConfig) GetTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	if d == 0 {
		return 15 * time.Minute
	}
	return d
}
