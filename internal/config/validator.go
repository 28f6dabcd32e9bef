package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers agent-specific validation rules.
// Must be called before validating AgentConfig.
func RegisterCustomValidators(v *validator.Validate) error {
	rules := map[string]validator.Func{
		"aes256_key":    validateAES256Key,
		"argon2id_hash": validateArgon2idHash,
		"duration":      validateDuration,
		"listen_addr":   validateListenAddr,
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}
	return nil
}

// validateAES256Key accepts the base64 encoding of exactly 32 bytes.
func validateAES256Key(fl validator.FieldLevel) bool {
	key, err := base64.StdEncoding.DecodeString(fl.Field().String())
	return err == nil && len(key) == 32
}

// validateArgon2idHash accepts a PHC-format argon2id hash.
func validateArgon2idHash(fl validator.FieldLevel) bool {
	_, _, _, err := argon2id.DecodeHash(fl.Field().String())
	return err == nil
}

// validateDuration accepts a positive time.ParseDuration string.
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d > 0
}

// validateListenAddr accepts host:port or "off".
func validateListenAddr(fl validator.FieldLevel) bool {
	addr := fl.Field().String()
	if addr == ListenerDisabled {
		return true
	}
	_, port, err := net.SplitHostPort(addr)
	return err == nil && port != ""
}

// Validate validates the AgentConfig using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *AgentConfig) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateRemote(); err != nil {
		return err
	}

	if err := c.validateAudit(); err != nil {
		return err
	}

	return nil
}

// validateRemote requires a management service outside dev mode.
func (c *AgentConfig) validateRemote() error {
	if c.Remote.BaseURL == "" && !c.DevMode {
		return errors.New("remote.base_url is required (or enable dev_mode to run standalone)")
	}
	if c.Remote.BaseURL != "" &&
		!strings.HasPrefix(c.Remote.BaseURL, "https://") && !c.DevMode {
		return errors.New("remote.base_url must use https outside dev_mode")
	}
	return nil
}

// validateAudit keeps a batch within the queue.
func (c *AgentConfig) validateAudit() error {
	if c.Audit.Capacity > 0 && c.Audit.BatchSize > c.Audit.Capacity {
		return fmt.Errorf("audit.batch_size (%d) must not exceed audit.capacity (%d)",
			c.Audit.BatchSize, c.Audit.Capacity)
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "uuid":
		return fmt.Sprintf("%s must be a UUID", field)
	case "listen_addr":
		return fmt.Sprintf("%s must be host:port or %q", field, ListenerDisabled)
	case "aes256_key":
		return fmt.Sprintf("%s must be a base64-encoded 32-byte key", field)
	case "argon2id_hash":
		return fmt.Sprintf("%s must be an argon2id hash from `sentinel-agent hash-token`", field)
	case "duration":
		return fmt.Sprintf("%s must be a positive duration such as \"30s\" or \"5m\"", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
