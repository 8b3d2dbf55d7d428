package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"wfmenu/internal/config"
	"wfmenu/internal/display"
	"wfmenu/internal/health"
	"wfmenu/internal/logging"
	"wfmenu/internal/menubus"
	"wfmenu/internal/metrics"
	"wfmenu/internal/wayfire"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	Root   *RootOptions
	NoMenu bool
	Color  string
	Listen string
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{Root: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print focus changes and menus until the compositor goes away",
		Long: `Connect to the compositor, subscribe to view events and print one line per
focus change. Unless --no-menu is given, the menu of each focused view is
looked up on the session bus and printed as well.

The command exits when the connection is lost. It does not reconnect.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.NoMenu, "no-menu", false, "do not query the session bus for menus")
	cmd.Flags().StringVar(&opts.Color, "color", "", "color mode (auto|always|never)")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "serve /metrics and /healthz on this address")

	return cmd
}

func runWatch(ctx context.Context, opts *WatchOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}

	loader := config.NewLoader(configPath(opts.Root))
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg = cfg.Clone()
	applyRootFlags(cfg, opts.Root)
	if opts.Color != "" {
		cfg.Output.Color = opts.Color
	}
	if opts.NoMenu {
		cfg.Menu.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Close()
	logging.SetDefault(logger)

	watchConfig(ctx, loader, logger, opts.Root.Verbose)
	defer loader.Close()

	printer, err := display.New(cmd.OutOrStdout(), display.Options{
		Format: cfg.Output.Format,
		Color:  cfg.Output.Color,
	})
	if err != nil {
		return err
	}

	m := metrics.NewClient(metrics.NewRegistry("wfmenu"))
	checker := health.NewChecker()
	checker.Register("config", false, health.ConfigCheck(loader.Path()))

	sinks := wayfire.MultiSink{printer}
	if cfg.Menu.Enabled {
		resolver, err := menubus.ConnectSession(logger)
		if err != nil {
			// Focus tracking still works without a bus.
			logger.Warn("menus disabled", "error", err)
		} else {
			defer resolver.Close()
			binder := menubus.NewBinder(resolver, cfg.MenuTimeout(), printer.MenuResolved, logger)
			binder.SetMetrics(m)
			binder.Start(ctx)
			defer binder.Stop()
			sinks = append(sinks, binder)
		}
	}

	path, err := resolveSocket(cfg, opts.Root)
	if err != nil {
		return err
	}
	checker.Register("socket", true, health.SocketCheck(func() (string, error) { return path, nil }))

	if opts.Listen != "" {
		stop, err := serveDiagnostics(opts.Listen, m.Registry(), checker, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	session, err := wayfire.Connect(ctx, path, sinks, logger)
	if err != nil {
		return fmt.Errorf("connect to compositor: %w", err)
	}
	session.SetMetrics(m)
	checker.SetReady(true)
	defer checker.SetReady(false)

	err = session.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// watchConfig reloads the log level when the config file changes.
func watchConfig(ctx context.Context, loader *config.Loader, logger *logging.Logger, verbose bool) {
	loader.OnChange(func(old, cfg *config.Config) {
		level, err := logging.ParseLevel(cfg.Logging.Level)
		if err == nil && !verbose {
			logger.SetLevel(level)
		}
		logger.Info("configuration reloaded", "path", loader.Path(), "level", logging.LevelString(logger.Level()))
	})

	if err := loader.Watch(); err != nil {
		logger.Debug("config file not watched", "path", loader.Path(), "error", err)
		return
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-loader.Errors():
				if !ok {
					return
				}
				logger.Warn("config reload failed", "error", err)
			}
		}
	}()
}

// serveDiagnostics starts the metrics and health listener.
func serveDiagnostics(addr string, reg *metrics.Registry, checker *health.Checker, logger *logging.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	mux.Handle("/healthz", checker.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("diagnostics server stopped", "error", err)
		}
	}()
	logger.Info("serving diagnostics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}, nil
}
