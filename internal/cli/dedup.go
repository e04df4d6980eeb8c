package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/csvwizard/internal/backend"
	"github.com/JonMunkholm/csvwizard/internal/wizard"
)

func newDedupCommand(g *globals) *cobra.Command {
	var (
		columns []string
		preview bool
	)

	cmd := &cobra.Command{
		Use:   "dedup FILE",
		Short: "Extract the unique emails of a CRM export",
		Long: `Upload FILE, pick the email columns and produce a file of unique
addresses. Without --columns the columns suggested by the server are used.`,
		Example: `  wizard dedup crm.csv
  wizard dedup crm.csv --columns mail,alt_mail --preview`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := g.start(cmd)
			if err != nil {
				return err
			}
			up, err := backend.FileUpload(args[0])
			if err != nil {
				return err
			}

			c := wizard.NewDedup(r.be, r.opts)
			defer c.Close()

			if err := c.SelectFile(r.ctx, up); err != nil {
				return err
			}
			if want := splitList(columns); len(want) > 0 {
				if err := selectColumns(c, want); err != nil {
					return err
				}
			}

			if err := c.Preview(r.ctx); err != nil {
				return err
			}
			v := c.View()
			if preview {
				for _, email := range v.DedupPreview {
					fmt.Fprintln(r.out, email)
				}
				if v.Stats != nil {
					printStats(r.out, v.Stats)
				}
				return nil
			}

			w := watchOutcomes(c)
			defer w.dispose()
			if err := c.Process(r.ctx); err != nil {
				return err
			}
			out, err := w.await(r.ctx, wizard.StageProcess)
			if err != nil {
				return err
			}
			r.printResult(out, c.View().InvalidResult)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVarP(&columns, "columns", "c", nil, "email columns to use (comma-separated)")
	flags.BoolVar(&preview, "preview", false, "print the preview and stop before processing")

	return cmd
}

// selectColumns makes want the exact column selection, in order.
func selectColumns(c *wizard.DedupController, want []string) error {
	for _, col := range c.View().DedupColumns {
		if col.Selected {
			if err := c.ToggleColumn(col.Name, false); err != nil {
				return err
			}
		}
	}
	for _, name := range want {
		if !slices.ContainsFunc(c.View().DedupColumns, func(col wizard.DedupColumn) bool { return col.Name == name }) {
			return fmt.Errorf("column %q is not in the file", name)
		}
		if err := c.ToggleColumn(name, true); err != nil {
			return err
		}
	}
	return nil
}
