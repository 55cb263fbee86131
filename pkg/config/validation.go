package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
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
	schemes := cfg.Transport.Schemes()
	if len(schemes) == 0 {
		return fmt.Errorf("transport: at least one transport must be enabled")
	}

	// Validate device ids are unique and every node is reachable
	ids := make(map[int64]bool)
	for i, node := range cfg.Tracker.Nodes {
		if ids[node.DevID] {
			return fmt.Errorf("tracker.nodes[%d]: duplicate dev_id %d", i, node.DevID)
		}
		ids[node.DevID] = true

		u, err := url.Parse(node.URL)
		if err != nil || u.Scheme == "" {
			return fmt.Errorf("tracker.nodes[%d]: invalid url %q", i, node.URL)
		}
		if !slices.Contains(schemes, strings.ToLower(u.Scheme)) {
			return fmt.Errorf("tracker.nodes[%d]: no transport enabled for scheme %q (enabled: %s)",
				i, u.Scheme, strings.Join(schemes, ", "))
		}
	}

	if cfg.Tracker.RateLimit.Burst > 0 && cfg.Tracker.RateLimit.RequestsPerSecond == 0 {
		return fmt.Errorf("tracker.rate_limit: burst is set but requests_per_second is 0")
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
