package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mcpforge/cmd/mcpforge/cmdutil"
	deploycmd "mcpforge/cmd/mcpforge/deploy"
	"mcpforge/cmd/mcpforge/deployments"
	indexcmd "mcpforge/cmd/mcpforge/index"
	"mcpforge/cmd/mcpforge/serve"
	"mcpforge/cmd/mcpforge/ui"
	"mcpforge/internal/logging"
)

// version is set at link time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := logging.Configure("warn", "text"); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, ui.ErrorMsg("%v", err))
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags cmdutil.GlobalFlags

	root := &cobra.Command{
		Use:           "mcpforge",
		Short:         "Turn a plain-language request into a running MCP server container",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			ui.ConfigureInteraction(flags.NoInteraction)
			cfg, err := flags.LoadConfig(cmd.Context())
			if err != nil {
				return err
			}
			return logging.Configure(cfg.LogLevel, cfg.LogFormat)
		},
	}
	flags.Bind(root)

	root.AddCommand(deploycmd.Cmd(&flags))
	root.AddCommand(serve.Cmd(&flags))
	root.AddCommand(deployments.Cmd(&flags))
	root.AddCommand(indexcmd.Cmd(&flags))
	return root
}
