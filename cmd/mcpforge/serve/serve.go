package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"mcpforge/cmd/mcpforge/cmdutil"
	"mcpforge/cmd/mcpforge/ui"
	"mcpforge/internal/api"
)

const shutdownTimeout = 15 * time.Second

func Cmd(flags *cmdutil.GlobalFlags) *cobra.Command {
	var (
		listen  string
		offline bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the deploy API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.LoadConfig(cmd.Context())
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}
			if offline {
				cfg.Generator.Offline = true
			}

			stack, err := cmdutil.Open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer stack.Close(context.WithoutCancel(cmd.Context()))

			srv, err := api.New(stack.Coordinator, stack.Driver, stack.Driver, api.Config{
				LabelKey:    cfg.LabelKey,
				ServiceName: cfg.Telemetry.ServiceName,
				Gatherer:    stack.Registry,
			})
			if err != nil {
				return err
			}

			ln, err := net.Listen("tcp", cfg.Listen)
			if err != nil {
				return fmt.Errorf("listen %s: %w", cfg.Listen, err)
			}
			fmt.Println(ui.InfoMsg("serving on %s", ui.Accent("http://"+ln.Addr().String())))
			return run(cmd.Context(), ln, srv.Routes())
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides config)")
	cmd.Flags().BoolVar(&offline, "offline", false, "Render packages from templates instead of calling a model")
	return cmd
}

// run serves until ctx is canceled, then drains in-flight requests.
func run(ctx context.Context, ln net.Listener, handler http.Handler) error {
	httpSrv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
