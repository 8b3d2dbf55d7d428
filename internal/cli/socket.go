package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"wfmenu/internal/config"
	"wfmenu/internal/ipc"
)

// NewSocketCommand creates the socket command.
func NewSocketCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "socket",
		Short: "Print the compositor socket wfmenu would connect to",
		Long: `Resolve the compositor socket the same way watch does: --socket, then
$WAYFIRE_SOCKET, then the configured path, then the default. With discovery
enabled, a path nobody listens on is replaced by the newest listening match.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			path, err := resolveSocket(cfg, rootOpts)
			if err != nil {
				return err
			}

			f := newFormatter(cfg, cmd)
			return f.Emit(map[string]any{
				"path":      path,
				"listening": ipc.IsSocketListening(path),
			}, func() {
				fmt.Fprintln(f.Writer, path)
			})
		},
	}
}

// resolveSocket picks the socket to dial. An explicit --socket wins over
// the environment.
func resolveSocket(cfg *config.Config, opts *RootOptions) (string, error) {
	if opts.Socket != "" {
		return opts.Socket, nil
	}
	return cfg.Endpoint().Resolve()
}
