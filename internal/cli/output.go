package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"wfmenu/internal/config"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // a check failed or the session ended with an error
	ExitCommandError = 2 // bad flags or configuration
)

// ExitError carries a specific exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// GetExitCode extracts the exit code from an error. Errors without one
// map to ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if errors.Is(err, config.ErrInvalidConfig) {
		return ExitCommandError
	}
	return ExitFailure
}

// formatter writes either a JSON document or human text.
type formatter struct {
	JSON   bool
	Writer io.Writer
}

func newFormatter(cfg *config.Config, cmd *cobra.Command) *formatter {
	return &formatter{JSON: cfg.Output.Format == "json", Writer: cmd.OutOrStdout()}
}

// Emit encodes data as indented JSON, or calls text.
func (f *formatter) Emit(data any, text func()) error {
	if !f.JSON {
		text()
		return nil
	}
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
