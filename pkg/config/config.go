package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete iohub configuration.
//
// This structure captures all configurable aspects of the daemon:
//   - Logging configuration
//   - Mount settings (mountpoint, backing root, FUSE options)
//   - Throttling (per-UID allocations, the mandatory fallback
//     allocation, period length, optional metadata operation cap)
//
// Configuration sources (in order of precedence):
//  1. Environment variables (IOHUB_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Mount contains the mountpoint, backing root and FUSE options
	Mount MountConfig `mapstructure:"mount"`

	// Throttle contains the per-UID I/O quota configuration
	Throttle ThrottleConfig `mapstructure:"throttle"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// MountConfig contains the mount settings.
type MountConfig struct {
	// Mountpoint is the directory the filesystem is mounted at
	Mountpoint string `mapstructure:"mountpoint" validate:"required"`

	// Root is the backing directory all operations forward to
	Root string `mapstructure:"root" validate:"required"`

	// AllowOther permits users other than the mounting user to access
	// the mount (FUSE allow_other)
	AllowOther bool `mapstructure:"allow_other"`

	// Debug enables FUSE protocol tracing
	Debug bool `mapstructure:"debug"`
}

// ThrottleConfig contains the per-UID I/O quota configuration.
type ThrottleConfig struct {
	// Period is the length of one throttling window; allocations renew
	// in full at each period boundary
	Period time.Duration `mapstructure:"period" validate:"required,gt=0"`

	// MetadataOpsPerSecond caps metadata operations across the mount
	// (0 = unlimited)
	MetadataOpsPerSecond uint `mapstructure:"metadata_ops_per_second"`

	// Identities lists per-UID guaranteed allocations
	Identities []IdentityAllocation `mapstructure:"identities" validate:"dive"`

	// UnknownBytesPerPeriod is the mandatory shared allocation for
	// every UID without an explicit entry; the daemon refuses to start
	// without it
	UnknownBytesPerPeriod uint64 `mapstructure:"unknown_bytes_per_period" validate:"required,gt=0"`
}

// IdentityAllocation is the guaranteed allocation for one UID.
type IdentityAllocation struct {
	// UID is the numeric user the allocation applies to
	UID uint32 `mapstructure:"uid"`

	// BytesPerPeriod is the number of bytes the UID may read or write
	// during each throttling period
	BytesPerPeriod uint64 `mapstructure:"bytes_per_period" validate:"required,gt=0"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (IOHUB_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//   - overrides: Applied after defaults and before validation, so e.g.
//     command-line flags can supply values the file omits
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string, overrides ...func(*Config)) (*Config, error) {
	v := viper.New()

	// Configure viper
	setupViper(v, configPath)

	// Read configuration file if it exists
	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	// Unmarshal into config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for any missing values
	ApplyDefaults(&cfg)

	// Apply caller overrides (e.g. command-line flags)
	for _, override := range overrides {
		override(&cfg)
	}

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Set up environment variable support
	// Environment variables use IOHUB_ prefix and underscores
	// Example: IOHUB_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("IOHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Register every key so environment variables apply even when the
	// config file omits the key entirely
	v.SetDefault("logging.level", "")
	v.SetDefault("logging.output", "")
	v.SetDefault("mount.mountpoint", "")
	v.SetDefault("mount.root", "")
	v.SetDefault("mount.allow_other", false)
	v.SetDefault("mount.debug", false)
	v.SetDefault("throttle.period", 0)
	v.SetDefault("throttle.metadata_ops_per_second", 0)
	v.SetDefault("throttle.unknown_bytes_per_period", 0)

	// Configure config file search
	if configPath != "" {
		// Use explicitly specified config file
		v.SetConfigFile(configPath)
	} else {
		// Use default location: $XDG_CONFIG_HOME/iohub/config.{yaml,toml}
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml") // Primary format
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		// No file on the search path is acceptable - defaults and
		// environment still apply. An explicitly requested file that
		// cannot be read is not: viper reports that as a plain fs
		// error, and silently ignoring it would turn a typo'd -config
		// path into a confusing validation failure later.
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	// Check XDG_CONFIG_HOME
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "iohub")
	}

	// Fall back to ~/.config
	home, err := os.UserHomeDir()
	if err != nil {
		// If we can't get home dir, use current directory as last resort
		return "."
	}

	return filepath.Join(home, ".config", "iohub")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
