package deployments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"mcpforge/cmd/mcpforge/cmdutil"
	"mcpforge/cmd/mcpforge/ui"
	"mcpforge/internal/forge"
)

type operatorFunc func(ctx context.Context) (forge.Operator, string, func(), error)

func Cmd(flags *cmdutil.GlobalFlags) *cobra.Command {
	return newCmd(func(ctx context.Context) (forge.Operator, string, func(), error) {
		cfg, err := flags.LoadConfig(ctx)
		if err != nil {
			return nil, "", nil, err
		}
		driver, err := cmdutil.ConnectDriver(ctx, cfg)
		if err != nil {
			return nil, "", nil, err
		}
		return driver, cfg.LabelKey, func() { _ = driver.Close() }, nil
	})
}

func newCmd(open operatorFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deployments",
		Aliases: []string{"deployment", "ps"},
		Short:   "Inspect and reclaim deployed MCP servers",
	}
	cmd.AddCommand(listCmd(open))
	cmd.AddCommand(stopCmd(open))
	cmd.AddCommand(pruneCmd(open))
	return cmd
}

func listCmd(open operatorFunc) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List containers started by mcpforge",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			op, label, done, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			items, err := op.ListByLabel(cmd.Context(), label)
			if err != nil {
				return err
			}
			if jsonOut {
				if items == nil {
					items = []forge.ContainerSummary{}
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(items)
			}
			renderList(cmd.OutOrStdout(), items)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print JSON")
	return cmd
}

func renderList(w io.Writer, items []forge.ContainerSummary) {
	if len(items) == 0 {
		fmt.Fprintln(w, ui.Muted("no deployments"))
		return
	}
	rows := make([][]string, 0, len(items))
	for _, c := range items {
		created := ""
		if !c.CreatedAt.IsZero() {
			created = c.CreatedAt.Local().Format(time.DateTime)
		}
		rows = append(rows, []string{c.ID, c.Name, c.Adapter, ui.Running(c.Running, c.Status), c.Endpoint, created})
	}
	fmt.Fprintln(w, ui.Table([]string{"ID", "NAME", "ADAPTER", "STATUS", "ENDPOINT", "CREATED"}, rows))
}

func stopCmd(open operatorFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <container-id>",
		Short: "Stop and remove one deployment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, label, done, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			if err := op.StopContainer(cmd.Context(), label, args[0]); err != nil {
				if errors.Is(err, forge.ErrDeploymentNotFound) {
					return fmt.Errorf("no mcpforge deployment %q", args[0])
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.SuccessMsg("stopped %s", args[0]))
			return nil
		},
	}
}

func pruneCmd(open operatorFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove every mcpforge container and image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			op, label, done, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer done()

			report, err := op.RemoveAll(cmd.Context(), label)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.SuccessMsg("removed %d containers and %d images", report.Containers, report.Images))
			return nil
		},
	}
}
