package index

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"mcpforge/cmd/mcpforge/cmdutil"
	"mcpforge/cmd/mcpforge/ui"
	"mcpforge/internal/forge"
	"mcpforge/internal/knowledge"
)

type openFunc func(ctx context.Context) (*knowledge.Index, error)

func Cmd(flags *cmdutil.GlobalFlags) *cobra.Command {
	return newCmd(func(ctx context.Context) (*knowledge.Index, error) {
		cfg, err := flags.LoadConfig(ctx)
		if err != nil {
			return nil, err
		}
		return knowledge.Open(cfg.KnowledgeDB)
	})
}

func newCmd(open openFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage the server descriptor knowledge index",
	}
	cmd.AddCommand(addCmd(open))
	cmd.AddCommand(seedCmd(open))
	cmd.AddCommand(listCmd(open))
	cmd.AddCommand(searchCmd(open))
	return cmd
}

func addCmd(open openFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "add <dir>...",
		Short: "Index every descriptor document (*.md with front matter) under the given directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var docs []forge.Descriptor
			for _, dir := range args {
				loaded, err := knowledge.LoadDir(dir)
				if err != nil {
					return err
				}
				docs = append(docs, loaded...)
			}
			return upsert(cmd, open, docs)
		},
	}
}

func seedCmd(open openFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Index the bundled reference descriptors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return upsert(cmd, open, knowledge.SeedDescriptors())
		},
	}
}

func upsert(cmd *cobra.Command, open openFunc, docs []forge.Descriptor) error {
	if len(docs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), ui.WarnMsg("no descriptors found"))
		return nil
	}
	ix, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer ix.Close()

	if err := ix.Upsert(cmd.Context(), docs...); err != nil {
		return err
	}
	n, err := ix.Count(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), ui.SuccessMsg("indexed %d descriptors (%d total)", len(docs), n))
	return nil
}

func listCmd(open openFunc) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List indexed descriptors",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer ix.Close()

			docs, err := ix.List(cmd.Context())
			if err != nil {
				return err
			}
			renderDescriptors(cmd.OutOrStdout(), docs)
			return nil
		},
	}
}

func searchCmd(open openFunc) *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Show which descriptors a query retrieves",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ix, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer ix.Close()

			docs, err := ix.Retrieve(cmd.Context(), strings.Join(args, " "), k)
			if err != nil {
				return err
			}
			renderDescriptors(cmd.OutOrStdout(), docs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "top", "k", 2, "Number of descriptors to retrieve")
	return cmd
}

func renderDescriptors(w io.Writer, docs []forge.Descriptor) {
	if len(docs) == 0 {
		fmt.Fprintln(w, ui.Muted("no descriptors"))
		return
	}
	rows := make([][]string, 0, len(docs))
	for _, d := range docs {
		rows = append(rows, []string{d.Name, d.InstallationType.String(), d.Description})
	}
	fmt.Fprintln(w, ui.Table([]string{"NAME", "TYPE", "DESCRIPTION"}, rows))
}
