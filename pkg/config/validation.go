package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/iohub/internal/throttle"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	// Run struct tag validation
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	// Custom validation rules that can't be expressed in tags
	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	// Validate UIDs are unique
	uids := make(map[uint32]bool)
	for i, id := range cfg.Throttle.Identities {
		if uids[id.UID] {
			return fmt.Errorf("throttle.identities[%d]: duplicate uid %d", i, id.UID)
		}
		uids[id.UID] = true
	}

	// The fallback has its own key; a reserved-UID entry in the list is
	// almost certainly a mistake
	for i, id := range cfg.Throttle.Identities {
		if id.UID == throttle.UnknownUID {
			return fmt.Errorf("throttle.identities[%d]: uid %d is reserved, use unknown_bytes_per_period instead",
				i, id.UID)
		}
	}

	// Validate allocations fit the packed counter's budget field
	for i, id := range cfg.Throttle.Identities {
		if id.BytesPerPeriod > throttle.MaxAllocation {
			return fmt.Errorf("throttle.identities[%d]: allocation %d exceeds maximum %d",
				i, id.BytesPerPeriod, throttle.MaxAllocation)
		}
	}
	if cfg.Throttle.UnknownBytesPerPeriod > throttle.MaxAllocation {
		return fmt.Errorf("throttle.unknown_bytes_per_period: allocation %d exceeds maximum %d",
			cfg.Throttle.UnknownBytesPerPeriod, throttle.MaxAllocation)
	}

	// Mounting the filesystem over its own backing tree would forward
	// every operation back into the mount
	if cfg.Mount.Mountpoint == cfg.Mount.Root {
		return fmt.Errorf("mount: mountpoint and root must differ")
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		// Return the first validation error with context
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
