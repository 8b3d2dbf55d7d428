package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

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
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Is lets errors.Is match ErrInvalidConfig.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

// ValidateConfig performs validation of every section.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateSocket(&c.Socket)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateOutput(&c.Output)...)
	errs = append(errs, validateMenu(&c.Menu)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateSocket(s *SocketConfig) ValidationErrors {
	var errs ValidationErrors

	if s.Path == "" && s.DefaultPath == "" && !s.Discover {
		errs = append(errs, ValidationError{
			Field:   "socket",
			Message: "one of path, default_path or discover is required",
		})
	}

	for field, p := range map[string]string{"socket.path": s.Path, "socket.default_path": s.DefaultPath} {
		if p != "" && !filepath.IsAbs(expandPath(p)) {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("socket path must be absolute: %s", p),
			})
		}
	}

	if s.Discover {
		if s.DiscoverPattern != "" {
			if _, err := filepath.Match(s.DiscoverPattern, "test"); err != nil {
				errs = append(errs, ValidationError{
					Field:   "socket.discover_pattern",
					Message: fmt.Sprintf("invalid glob pattern: %s", s.DiscoverPattern),
				})
			}
		}
		if s.DiscoverDir != "" {
			if info, err := os.Stat(expandPath(s.DiscoverDir)); err != nil || !info.IsDir() {
				errs = append(errs, ValidationError{
					Field:   "socket.discover_dir",
					Message: fmt.Sprintf("not a directory: %s", s.DiscoverDir),
				})
			}
		}
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
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size cannot be negative",
		})
	}

	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}

	return errs
}

func validateOutput(o *OutputConfig) ValidationErrors {
	var errs ValidationErrors

	switch o.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "output.format",
			Message: fmt.Sprintf("invalid output format: %s (valid: text, json)", o.Format),
		})
	}

	switch o.Color {
	case "auto", "always", "never":
	default:
		errs = append(errs, ValidationError{
			Field:   "output.color",
			Message: fmt.Sprintf("invalid color mode: %s (valid: auto, always, never)", o.Color),
		})
	}

	return errs
}

func validateMenu(m *MenuConfig) ValidationErrors {
	var errs ValidationErrors

	if m.Enabled && (m.TimeoutMs < 10 || m.TimeoutMs > 60000) {
		errs = append(errs, *RangeError("menu.timeout_ms", 10, 60000))
	}

	return errs
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max any) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}
