// Package cli wires the wfmenu commands together.
package cli

import (
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"wfmenu/internal/config"
	"wfmenu/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "" | "text" | "json"; empty defers to the config file
	ConfigPath string
	Socket     string
}

// ValidFormats defines the allowed output formats. The empty string keeps
// whatever the configuration says.
var ValidFormats = []string{"", "text", "json"}

// NewRootCommand creates the root command. Without a subcommand it runs
// watch.
func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{}
	watch := NewWatchCommand(opts)

	cmd := &cobra.Command{
		Use:   "wfmenu",
		Short: "Follow Wayfire focus and the menus of focused windows",
		Long: `wfmenu connects to the Wayfire IPC socket, tracks which toplevel view has
focus and collects the properties that locate its application menu on the
session bus.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be text or json", opts.Format)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          watch.RunE,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "", "output format (text|json)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default "+config.ConfigPath()+")")
	cmd.PersistentFlags().StringVar(&opts.Socket, "socket", "", "compositor socket path")
	cmd.Flags().AddFlagSet(watch.Flags())

	cmd.AddCommand(watch)
	cmd.AddCommand(NewSocketCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))
	cmd.AddCommand(NewVersionCommand(version))

	return cmd
}

// configPath picks the file to read: --config, then $WFMENU_CONFIG, then
// the first config.* found by config.FindConfigFile, then the default.
func configPath(opts *RootOptions) string {
	if opts.ConfigPath != "" {
		return opts.ConfigPath
	}
	if os.Getenv(config.EnvConfig) == "" {
		if found := config.FindConfigFile(); found != "" {
			return found
		}
	}
	return config.ConfigPath()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// loadConfig reads the configuration and layers the global flags on top.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(configPath(opts))
	if err != nil {
		return nil, err
	}
	applyRootFlags(cfg, opts)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyRootFlags(cfg *config.Config, opts *RootOptions) {
	if opts.Socket != "" {
		cfg.Socket.Path = opts.Socket
	}
	if opts.Format != "" {
		cfg.Output.Format = opts.Format
	}
	if opts.Verbose {
		cfg.Logging.Level = "debug"
	}
}

// newLogger builds the process logger. Console output goes to stderr so
// JSON on stdout stays clean.
func newLogger(cfg *config.Config, stderr io.Writer) (*logging.Logger, error) {
	lc, err := cfg.LoggerConfig()
	if err != nil {
		return nil, err
	}
	if lc.Output == "" || lc.Output == "stderr" {
		lc.Writer = stderr
	}
	return logging.New(lc)
}
