package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/godbus/dbus/v5"
	"github.com/spf13/cobra"

	"wfmenu/internal/config"
	"wfmenu/internal/health"
)

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "check",
		Short:         "Check the configuration, the compositor socket and the session bus",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), rootOpts, cmd)
		},
	}
}

func runCheck(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}

	path := configPath(opts)
	cfg, err := config.Load(path)
	if err != nil {
		cfg = config.DefaultConfig()
	}
	applyRootFlags(cfg, opts)

	checker := health.NewChecker()
	checker.Register("config", true, health.ConfigCheck(path))
	checker.Register("socket", true, health.SocketCheck(func() (string, error) {
		return resolveSocket(cfg, opts)
	}))
	if cfg.Menu.Enabled {
		checker.Register("session-bus", false, health.PingCheck("session bus", pingSessionBus))
	}

	results := checker.Run(ctx)
	overall := health.Overall(results)

	f := newFormatter(cfg, cmd)
	err = f.Emit(health.Report{Status: overall, Ready: overall != health.StatusUnhealthy, Checks: results}, func() {
		tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
		for _, r := range results {
			detail := r.Message
			if r.Error != "" {
				detail = r.Error
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", r.Name, r.Status, detail)
		}
		tw.Flush()
	})
	if err != nil {
		return err
	}

	if overall == health.StatusUnhealthy {
		return &ExitError{Code: ExitFailure, Err: fmt.Errorf("status %s", overall)}
	}
	return nil
}

func pingSessionBus(ctx context.Context) error {
	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.Peer.Ping", 0).Err
}
