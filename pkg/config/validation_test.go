package config

import (
	"strings"
	"testing"
	"time"

	"github.com/marmos91/iohub/internal/throttle"
)

// validConfig returns a configuration that passes validation, for tests
// to break one field at a time.
func validConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "INFO",
			Output: "stderr",
		},
		Mount: MountConfig{
			Mountpoint: "/mnt/iohub",
			Root:       "/srv/data",
		},
		Throttle: ThrottleConfig{
			Period:                5 * time.Second,
			MetadataOpsPerSecond:  0,
			UnknownBytesPerPeriod: 1024 * 1024,
			Identities: []IdentityAllocation{
				{UID: 1000, BytesPerPeriod: 10 * 1024 * 1024},
				{UID: 1001, BytesPerPeriod: 5 * 1024 * 1024},
			},
		},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.Logging.Level = "VERBOSE"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_MissingMountpoint(t *testing.T) {
	cfg := validConfig()
	cfg.Mount.Mountpoint = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for missing mountpoint")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("Expected 'required' validation error, got: %v", err)
	}
}

func TestValidate_MissingRoot(t *testing.T) {
	cfg := validConfig()
	cfg.Mount.Root = ""

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for missing root")
	}
}

func TestValidate_ZeroPeriod(t *testing.T) {
	cfg := validConfig()
	cfg.Throttle.Period = 0

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for zero period")
	}
}

func TestValidate_MissingFallbackAllocation(t *testing.T) {
	cfg := validConfig()
	cfg.Throttle.UnknownBytesPerPeriod = 0

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for missing fallback allocation")
	}
}

func TestValidate_ZeroAllocation(t *testing.T) {
	cfg := validConfig()
	cfg.Throttle.Identities[0].BytesPerPeriod = 0

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for zero allocation")
	}
}

func TestValidate_DuplicateUID(t *testing.T) {
	cfg := validConfig()
	cfg.Throttle.Identities[1].UID = cfg.Throttle.Identities[0].UID

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for duplicate uid")
	}
	if !strings.Contains(err.Error(), "duplicate uid") {
		t.Errorf("Expected duplicate uid error, got: %v", err)
	}
}

func TestValidate_ReservedUID(t *testing.T) {
	cfg := validConfig()
	cfg.Throttle.Identities[0].UID = throttle.UnknownUID

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for reserved uid")
	}
	if !strings.Contains(err.Error(), "reserved") {
		t.Errorf("Expected reserved uid error, got: %v", err)
	}
}

func TestValidate_AllocationTooLarge(t *testing.T) {
	cfg := validConfig()
	cfg.Throttle.Identities[0].BytesPerPeriod = throttle.MaxAllocation + 1

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for oversized allocation")
	}
	if !strings.Contains(err.Error(), "exceeds maximum") {
		t.Errorf("Expected exceeds maximum error, got: %v", err)
	}
}

func TestValidate_FallbackAllocationTooLarge(t *testing.T) {
	cfg := validConfig()
	cfg.Throttle.UnknownBytesPerPeriod = throttle.MaxAllocation + 1

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for oversized fallback allocation")
	}
}

func TestValidate_MountpointEqualsRoot(t *testing.T) {
	cfg := validConfig()
	cfg.Mount.Root = cfg.Mount.Mountpoint

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for mountpoint equal to root")
	}
	if !strings.Contains(err.Error(), "must differ") {
		t.Errorf("Expected must differ error, got: %v", err)
	}
}

func TestValidate_NoIdentitiesIsAllowed(t *testing.T) {
	cfg := validConfig()
	cfg.Throttle.Identities = nil

	if err := Validate(cfg); err != nil {
		t.Errorf("Expected config with only the fallback allocation to validate, got: %v", err)
	}
}
