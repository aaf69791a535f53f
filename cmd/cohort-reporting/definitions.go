package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/lemonberrylabs/cohort-reporting/pkg/definition"
	"github.com/lemonberrylabs/cohort-reporting/pkg/timespan"
)

func (c *cli) newDefinitionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "definitions",
		Aliases: []string{"defs"},
		Short:   "Inspect cohort definitions",
	}
	cmd.AddCommand(c.newDefinitionsListCmd())
	return cmd
}

func (c *cli) newDefinitionsListCmd() *cobra.Command {
	var (
		output string
		kind   string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the definitions in the store and definitions directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			reg, closeReg, err := c.openRegistry(ctx, false)
			if err != nil {
				return err
			}
			defer closeReg()

			defs, err := reg.List(ctx)
			if err != nil {
				return err
			}
			if kind != "" {
				filtered := defs[:0]
				for _, d := range defs {
					if string(d.Kind) == kind {
						filtered = append(filtered, d)
					}
				}
				defs = filtered
			}

			if output == "json" {
				if defs == nil {
					defs = []*definition.Definition{}
				}
				return writeJSON(cmd.OutOrStdout(), defs)
			}
			renderDefinitions(cmd.OutOrStdout(), defs, timespan.ParseLocale(c.cfg.UI.Locale), time.Now)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table or json")
	cmd.Flags().StringVar(&kind, "kind", "", "Only list definitions of this kind")
	return cmd
}

func renderDefinitions(w io.Writer, defs []*definition.Definition, loc *timespan.Localizer, clock timespan.Clock) {
	if len(defs) == 0 {
		_, _ = fmt.Fprintln(w, "(0 definitions)")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Name", "Kind", "Parameters", "Updated"})
	for _, d := range defs {
		params := make([]string, len(d.Parameters))
		for i, p := range d.Parameters {
			params[i] = p.Name + ":" + string(p.Type)
		}
		t.AppendRow(table.Row{d.Name, string(d.Kind), strings.Join(params, ", "), loc.Render(timespan.Since(d.UpdatedAt, clock))})
	}
	t.Render()
	_, _ = fmt.Fprintf(w, "(%d definitions)\n", len(defs))
}

// formatValue renders an evaluated parameter value for a table cell.
func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return t.Format(time.DateOnly)
		}
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}
