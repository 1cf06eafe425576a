package config

import (
	"strings"
	"time"

	"github.com/marmos91/iohub/internal/throttle"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - The mountpoint, backing root and fallback allocation have no
//     defaults: they are validated as required instead
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyThrottleDefaults(&cfg.Throttle)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

// applyThrottleDefaults sets throttling defaults.
func applyThrottleDefaults(cfg *ThrottleConfig) {
	if cfg.Period == 0 {
		cfg.Period = throttle.DefaultPeriod
	}
}

// shutdownTimeout is how long the daemon waits for the FUSE server to
// unmount before giving up during shutdown.
const shutdownTimeout = 30 * time.Second

// ShutdownTimeout returns the graceful shutdown budget.
func (c *Config) ShutdownTimeout() time.Duration {
	return shutdownTimeout
}

// IdentityConfigs converts the throttle section into the identity list
// consumed by throttle.NewTable, appending the mandatory fallback
// entry.
func (c *Config) IdentityConfigs() []throttle.IdentityConfig {
	identities := make([]throttle.IdentityConfig, 0, len(c.Throttle.Identities)+1)
	for _, id := range c.Throttle.Identities {
		identities = append(identities, throttle.IdentityConfig{
			UID:            id.UID,
			BytesPerPeriod: id.BytesPerPeriod,
		})
	}
	identities = append(identities, throttle.IdentityConfig{
		UID:            throttle.UnknownUID,
		BytesPerPeriod: c.Throttle.UnknownBytesPerPeriod,
	})
	return identities
}
