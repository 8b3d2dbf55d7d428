// wfmenu follows keyboard focus on a Wayfire desktop and reports the
// application menu of the focused window.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"wfmenu/internal/cli"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := cli.NewRootCommand(Version)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "wfmenu: %v\n", err)
		stop()
		os.Exit(cli.GetExitCode(err))
	}
}
