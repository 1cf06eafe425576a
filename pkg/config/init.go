package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// defaultConfigTemplate is the commented starter configuration written
// by InitConfig. It documents every setting and configures a small
// example identity list; operators must still fill in the mountpoint
// and backing root before the daemon will start.
const defaultConfigTemplate = `# iohub Configuration File
#
# Configuration sources (in order of precedence):
#   1. Environment variables (IOHUB_*, e.g. IOHUB_LOGGING_LEVEL=DEBUG)
#   2. This file
#   3. Built-in defaults

logging:
  # Minimum level to emit: DEBUG, INFO, WARN, ERROR
  level: INFO
  # Where to write logs: stdout, stderr, or a file path
  output: stderr

mount:
  # Directory the filesystem is mounted at (required)
  mountpoint: /mnt/hub
  # Backing directory all operations forward to (required)
  root: /srv/hub
  # Let users other than the mounting user access the mount.
  # Requires user_allow_other in /etc/fuse.conf when unprivileged.
  allow_other: true
  # FUSE protocol tracing
  debug: false

throttle:
  # Length of one throttling period; allocations renew in full at each
  # period boundary and unused bytes are never carried over
  period: 5s
  # Cap on metadata operations per second across the mount (0 = off)
  metadata_ops_per_second: 0
  # Guaranteed bytes per period for specific UIDs.
  # Example: 262144000 bytes per 5s period is 50 MB/s sustained.
  identities:
    - uid: 1000
      bytes_per_period: 262144000
  # Shared allocation for every UID without an entry above (required).
  # All unconfigured UIDs contend for this single pool.
  unknown_bytes_per_period: 52428800
`

// InitConfig writes the starter configuration file to the default
// location, creating the configuration directory if needed.
//
// Parameters:
//   - force: Overwrite an existing config file instead of failing
//
// Returns:
//   - string: Path of the written config file
//   - error: Creation failure, or an "already exists" error when the
//     file is present and force is false
func InitConfig(force bool) (string, error) {
	configDir := getConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	configPath := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil && !force {
		return "", fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
	}

	if err := os.WriteFile(configPath, []byte(defaultConfigTemplate), 0644); err != nil {
		return "", fmt.Errorf("failed to write config file: %w", err)
	}

	return configPath, nil
}
