package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"mcpforge/cmd/mcpforge/cmdutil"
	"mcpforge/cmd/mcpforge/ui"
	"mcpforge/internal/coordinator"
	"mcpforge/internal/forge"
	"mcpforge/internal/generation"
)

// errNotDeployed makes the process exit non-zero after the response has
// already been printed.
var errNotDeployed = errors.New("no deployment produced")

func Cmd(flags *cmdutil.GlobalFlags) *cobra.Command {
	var (
		offline    bool
		jsonOut    bool
		maxRetries int
	)

	cmd := &cobra.Command{
		Use:   "deploy <query>",
		Short: "Find, build and run an MCP server for a natural-language query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.LoadConfig(cmd.Context())
			if err != nil {
				return err
			}
			if offline {
				cfg.Generator.Offline = true
			}
			if cmd.Flags().Changed("retries") {
				if maxRetries < 0 {
					return fmt.Errorf("--retries must be >= 0")
				}
				cfg.MaxRetries = maxRetries
			}

			stack, err := cmdutil.Open(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer stack.Close(context.WithoutCancel(cmd.Context()))

			query := strings.Join(args, " ")
			if !jsonOut {
				fmt.Fprintln(os.Stderr, ui.InfoMsg("deploying %q (up to %d attempts)", query, cfg.MaxRetries+1))
			}
			resp := stack.Coordinator.Handle(cmd.Context(), query)

			if jsonOut {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(resp); err != nil {
					return err
				}
			} else {
				render(os.Stdout, resp)
			}
			if resp.Status != coordinator.StatusSuccess {
				return errNotDeployed
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Render packages from templates instead of calling a model")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the raw JSON response")
	cmd.Flags().IntVar(&maxRetries, "retries", 0, "Maximum regenerations after the first attempt (overrides config)")
	return cmd
}

func render(w io.Writer, resp coordinator.Response) {
	switch resp.Status {
	case coordinator.StatusSuccess:
		fmt.Fprintln(w, ui.SuccessMsg("%s is running", ui.Bold(resp.Name)))
		fmt.Fprint(w, ui.KeyValues("  ",
			ui.KV("endpoint", ui.Accent(resp.Endpoint)),
			ui.KV("container", resp.ContainerID),
			ui.KV("attempts", strconv.Itoa(resp.Attempts)),
			ui.KV("query", resp.QueryID),
		))
		if resp.Logs != "" {
			fmt.Fprintln(w, ui.Muted("  logs:"))
			fmt.Fprintln(w, ui.Muted(ui.Indent(resp.Logs, "    ")))
		}
	case coordinator.StatusFailed:
		fmt.Fprintln(w, ui.ErrorMsg("%s failed after %d attempts", displayName(resp.Name), resp.TotalAttempts))
		renderHistory(w, resp.ErrorHistory)
		if resp.Artifact != nil {
			fmt.Fprintln(w, ui.Muted("  last artifact:"))
			fmt.Fprintln(w, ui.Indent(generation.FormatArtifact(*resp.Artifact), "    "))
		}
	default:
		fmt.Fprintln(w, ui.ErrorMsg("%s", resp.Message))
		renderHistory(w, resp.ErrorHistory)
	}
}

func renderHistory(w io.Writer, history []forge.AttemptRecord) {
	for _, rec := range history {
		fmt.Fprintf(w, "  %s %s\n", ui.Bold(fmt.Sprintf("attempt %d", rec.AttemptNumber)), ui.Muted(rec.Status.String()))
		if logs := strings.TrimSpace(forge.TruncateLogs(rec.Logs, forge.DefaultLogLimit)); logs != "" {
			fmt.Fprintln(w, ui.Muted(ui.Indent(logs, "    ")))
		}
	}
}

func displayName(name string) string {
	if name == "" {
		return "deployment"
	}
	return name
}
