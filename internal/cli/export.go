package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/csvwizard/internal/backend"
	"github.com/JonMunkholm/csvwizard/internal/selection"
	"github.com/JonMunkholm/csvwizard/internal/wizard"
)

func newExportCommand(g *globals) *cobra.Command {
	var (
		items      []string
		categories []string
		list       bool
	)

	cmd := &cobra.Command{
		Use:   "export FILE",
		Short: "Split a CSV file into per-item exports",
		Long: `Upload FILE, wait for the category analysis, select items and
start the multi-export.

--select takes CATEGORY=ITEM[,ITEM...] and may be repeated. --all selects
every item of a category.`,
		Example: `  wizard export bases.csv --select bancos=Galicia,Nacion --all tarjetas
  wizard export bases.csv --list`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			picks, err := parseItems(items)
			if err != nil {
				return err
			}

			r, err := g.start(cmd)
			if err != nil {
				return err
			}
			up, err := backend.FileUpload(args[0])
			if err != nil {
				return err
			}

			c := wizard.NewExport(r.be, r.opts)
			defer c.Close()

			w := watchOutcomes(c)
			defer w.dispose()

			if err := c.ChooseFile(up); err != nil {
				return err
			}
			if err := c.Upload(r.ctx); err != nil {
				return err
			}
			if _, err := w.await(r.ctx, wizard.StageAnalysis); err != nil {
				return err
			}

			if list {
				printCategories(r, c.View().Categories)
				return nil
			}

			for _, key := range categories {
				if err := c.ToggleCategory(key, true); err != nil {
					return err
				}
			}
			for _, p := range picks {
				if err := c.ToggleItem(p.key, p.item, true); err != nil {
					return err
				}
			}

			if err := c.StartExport(r.ctx); err != nil {
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
	flags.StringArrayVar(&items, "select", nil, "items to export as CATEGORY=ITEM[,ITEM...]")
	flags.StringSliceVar(&categories, "all", nil, "categories to export in full ("+strings.Join(selection.CategoryKeys(), ", ")+")")
	flags.BoolVar(&list, "list", false, "print the categories found and stop")

	return cmd
}

type itemPick struct {
	key, item string
}

// parseItems parses CATEGORY=ITEM[,ITEM...] values.
func parseItems(values []string) ([]itemPick, error) {
	var out []itemPick
	for _, v := range values {
		key, rest, ok := strings.Cut(v, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --select %q: want CATEGORY=ITEM[,ITEM...]", v)
		}
		names := splitList([]string{rest})
		if len(names) == 0 {
			return nil, fmt.Errorf("invalid --select %q: no items", v)
		}
		for _, name := range names {
			out = append(out, itemPick{key: key, item: name})
		}
	}
	return out, nil
}

func printCategories(r *run, cats []selection.Category) {
	for _, c := range cats {
		values := make([]string, len(c.Items))
		for i, it := range c.Items {
			values[i] = it.Value
		}
		fmt.Fprintf(r.out, "%s: %s\n", c.Key, strings.Join(values, ", "))
	}
}
