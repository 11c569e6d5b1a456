package config

import (
	"fmt"
	"net"
	"strings"

	"crumbeez/internal/store"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Has reports whether field failed validation.
func (e ValidationErrors) Has(field string) bool {
	for _, err := range e {
		if err.Field == field {
			return true
		}
	}
	return false
}

// ValidateConfig performs comprehensive validation of the configuration.
// The result is nil or ValidationErrors.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateSummary(&c.Summary)...)
	errs = append(errs, validateFeed(&c.Feed)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateMetrics(&c.Metrics)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateStorage(s *StorageConfig) ValidationErrors {
	var errs ValidationErrors

	if s.DataDir == "" {
		errs = append(errs, *RequiredFieldError("storage.data_dir"))
	}
	if _, err := store.ParseCompression(s.Compression); err != nil {
		errs = append(errs, ValidationError{
			Field:   "storage.compression",
			Message: fmt.Sprintf("invalid compression: %s (valid: none, lz4, zstd)", s.Compression),
		})
	}
	if s.LogCapacity < 1 || s.LogCapacity > 1_000_000 {
		errs = append(errs, *RangeError("storage.log_capacity", 1, 1_000_000))
	}
	if s.BusyTimeoutMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.busy_timeout_ms",
			Message: "busy timeout cannot be negative",
		})
	}
	return errs
}

func validateSummary(s *SummaryConfig) ValidationErrors {
	var errs ValidationErrors

	if s.InactivitySec < 0 || s.InactivitySec > 86400 {
		errs = append(errs, *RangeError("summary.inactivity_sec", 0, 86400))
	}
	if s.PendingLimit < 1 || s.PendingLimit > 1000 {
		errs = append(errs, *RangeError("summary.pending_limit", 1, 1000))
	}
	return errs
}

func validateFeed(f *FeedConfig) ValidationErrors {
	var errs ValidationErrors

	if f.Follow && f.Path == "-" {
		errs = append(errs, ValidationError{
			Field:   "feed.follow",
			Message: "cannot follow standard input",
		})
	}
	if f.Follow && f.PollMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "feed.poll_ms",
			Message: "poll interval cannot be negative",
		})
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: fmt.Sprintf("file path is required when output is '%s'", l.Output),
			})
		}
		if l.MaxSizeMB < 1 {
			errs = append(errs, ValidationError{
				Field:   "logging.max_size_mb",
				Message: "max size must be at least 1 MB",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}
	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}
	return errs
}

func validateMetrics(m *MetricsConfig) ValidationErrors {
	var errs ValidationErrors

	if m.Enabled {
		if _, _, err := net.SplitHostPort(m.ListenAddr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "metrics.listen_addr",
				Message: fmt.Sprintf("invalid listen address %q: %v", m.ListenAddr, err),
			})
		}
	}
	if m.Namespace != "" && strings.ContainsAny(m.Namespace, " -.{}\"") {
		errs = append(errs, ValidationError{
			Field:   "metrics.namespace",
			Message: "namespace may only contain letters, digits and underscores",
		})
	}
	return errs
}

// RequiredFieldError creates a validation error for a required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: "required field is missing",
	}
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max any) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}
