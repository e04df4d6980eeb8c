package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/csvwizard/internal/backend"
	"github.com/JonMunkholm/csvwizard/internal/selection"
	"github.com/JonMunkholm/csvwizard/internal/wizard"
)

func newTransformCommand(g *globals) *cobra.Command {
	var (
		fields  []string
		order   []string
		preset  string
		preview bool
	)

	cmd := &cobra.Command{
		Use:   "transform FILE",
		Short: "Select, order and process the columns of a CSV file",
		Long: `Upload FILE, select columns and process them in the given order.

email and docnum are always included first. Optional columns come from
--preset and --select; --order sets their order (default: selection order).`,
		Example: `  wizard transform clients.csv --preset arplus-cumple
  wizard transform clients.csv --select nombre,apellido --order apellido,nombre`,
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

			c := wizard.NewTransform(r.be, r.opts)
			defer c.Close()

			if err := c.SelectFile(r.ctx, up); err != nil {
				return err
			}
			if preset != "" {
				if err := c.ApplyPreset(preset); err != nil {
					return err
				}
			}
			for _, name := range splitList(fields) {
				if err := c.ToggleField(name, true); err != nil {
					return err
				}
			}

			if err := c.Continue(r.ctx); err != nil {
				return err
			}
			if v := c.View(); v.State == wizard.StateReordering {
				if err := c.ConfirmOrder(r.ctx, fullOrder(v, splitList(order))); err != nil {
					return err
				}
			}

			if preview {
				v := c.View()
				printPreview(r.out, v.Columns, v.Preview)
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
			r.printResult(out, "")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVarP(&fields, "select", "s", nil, "optional columns to include (comma-separated)")
	flags.StringSliceVarP(&order, "order", "o", nil, "order of the optional columns")
	flags.StringVarP(&preset, "preset", "p", "", "column preset to apply ("+presetKeys()+")")
	flags.BoolVar(&preview, "preview", false, "print the preview and stop before processing")

	return cmd
}

// fullOrder prefixes a user-given order of optional columns with the fixed
// mandatory columns. An empty order keeps the current one.
func fullOrder(v wizard.View, optional []string) []string {
	if len(optional) == 0 {
		return nil
	}
	var out []string
	for _, it := range v.Reorder {
		if it.Fixed {
			out = append(out, it.Name)
		}
	}
	return append(out, optional...)
}

func presetKeys() string {
	var keys []string
	for _, p := range selection.Presets() {
		keys = append(keys, p.Key)
	}
	return strings.Join(keys, ", ")
}

// printPreview writes preview rows as tab-separated values.
func printPreview(w io.Writer, cols []string, rows []map[string]any) {
	fmt.Fprintln(w, strings.Join(cols, "\t"))
	for _, row := range rows {
		cells := make([]string, len(cols))
		for i, c := range cols {
			if v, ok := row[c]; ok && v != nil {
				cells[i] = fmt.Sprint(v)
			}
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
}
