package config

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ValidationError is one rejected setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config field %q: %s", e.Field, e.Message)
}

// ValidationErrors is every rejected setting of one validation run.
type ValidationErrors []ValidationError

func (es ValidationErrors) Error() string {
	var b strings.Builder
	b.WriteString("configuration validation failed:")
	for _, e := range es {
		fmt.Fprintf(&b, "\n  - %s: %s", e.Field, e.Message)
	}
	return b.String()
}

// Validator collects failures so one run reports every bad setting.
type Validator struct {
	errs ValidationErrors
}

// NewValidator creates an empty validator.
func NewValidator() *Validator {
	return &Validator{}
}

func (v *Validator) add(field, format string, args ...any) *Validator {
	v.errs = append(v.errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	return v
}

// RequireNonEmpty rejects a blank string.
func (v *Validator) RequireNonEmpty(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		return v.add(field, "must be set")
	}
	return v
}

// RequirePositive rejects counts and sizes below 1.
func (v *Validator) RequirePositive(field string, value int) *Validator {
	if value <= 0 {
		return v.add(field, "must be positive, got %d", value)
	}
	return v
}

// RequirePositiveDuration rejects zero or negative timeouts and budgets.
func (v *Validator) RequirePositiveDuration(field string, value time.Duration) *Validator {
	if value <= 0 {
		return v.add(field, "must be a positive duration, got %s", value)
	}
	return v
}

// ValidateRange checks min <= value <= max.
func (v *Validator) ValidateRange(field string, value, min, max int) *Validator {
	if value < min || value > max {
		return v.add(field, "must be in [%d, %d], got %d", min, max, value)
	}
	return v
}

// ValidateFloatRange checks min <= value <= max for thresholds and ratios.
func (v *Validator) ValidateFloatRange(field string, value, min, max float64) *Validator {
	if value < min || value > max {
		return v.add(field, "must be in [%g, %g], got %g", min, max, value)
	}
	return v
}

// ValidatePort checks a TCP port.
func (v *Validator) ValidatePort(field string, port int) *Validator {
	return v.ValidateRange(field, port, 1, 65535)
}

// ValidateDBNumber checks a Redis logical database index.
func (v *Validator) ValidateDBNumber(field string, db int) *Validator {
	return v.ValidateRange(field, db, 0, 15)
}

// ValidateOneOf rejects values outside allowed.
func (v *Validator) ValidateOneOf(field string, value string, allowed ...string) *Validator {
	if slices.Contains(allowed, value) {
		return v
	}
	return v.add(field, "must be one of %s, got %q", strings.Join(allowed, "|"), value)
}

// Check records message for field when ok is false.
func (v *Validator) Check(ok bool, field, message string) *Validator {
	if !ok {
		return v.add(field, "%s", message)
	}
	return v
}

// HasErrors reports whether any rule failed.
func (v *Validator) HasErrors() bool {
	return len(v.errs) > 0
}

// Error returns the collected failures as ValidationErrors, or nil.
func (v *Validator) Error() error {
	if !v.HasErrors() {
		return nil
	}
	return slices.Clone(v.errs)
}

// ValidatePostgresConfig validates PostgreSQL configuration
func ValidatePostgresConfig(host string, port int, user string, dbName string, sslMode string) error {
	v := NewValidator()

	v.RequireNonEmpty("host", host)
	v.ValidatePort("port", port)
	v.RequireNonEmpty("user", user)
	v.RequireNonEmpty("dbName", dbName)
	v.ValidateOneOf("sslMode", sslMode, "disable", "require", "verify-ca", "verify-full")

	return v.Error()
}

// ValidateRedisConfig validates Redis configuration
func ValidateRedisConfig(addr string, db int, stream string) error {
	v := NewValidator()

	v.RequireNonEmpty("addr", addr)
	v.ValidateDBNumber("db", db)
	v.RequireNonEmpty("stream", stream)

	return v.Error()
}

// ValidateMongoDBConfig validates MongoDB configuration
func ValidateMongoDBConfig(uri string, database string, collection string) error {
	v := NewValidator()

	v.RequireNonEmpty("uri", uri)
	v.RequireNonEmpty("database", database)
	v.RequireNonEmpty("collection", collection)

	return v.Error()
}

// ValidateBackendConfig validates one language-model backend entry
func ValidateBackendConfig(id, provider, apiKey, model string) error {
	v := NewValidator()

	v.RequireNonEmpty("id", id)
	v.ValidateOneOf("provider", provider, ProviderOpenAI, ProviderClaude, ProviderGemini, ProviderGroq, ProviderCohere)
	v.RequireNonEmpty("apiKey", apiKey)
	v.RequireNonEmpty("model", model)

	return v.Error()
}
