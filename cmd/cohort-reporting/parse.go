package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/lemonberrylabs/cohort-reporting/pkg/bind"
	"github.com/lemonberrylabs/cohort-reporting/pkg/expr"
	"github.com/lemonberrylabs/cohort-reporting/pkg/store"
	"github.com/lemonberrylabs/cohort-reporting/pkg/suggest"
	"github.com/lemonberrylabs/cohort-reporting/pkg/types"
)

type parseResult struct {
	Expression string             `json:"expression"`
	Normalized string             `json:"normalized"`
	Tokens     expr.TokenSequence `json:"tokens"`
	Bindings   []bind.Binding     `json:"bindings,omitempty"`
}

func (c *cli) newParseCmd() *cobra.Command {
	var (
		output  string
		context string
	)
	cmd := &cobra.Command{
		Use:   "parse <expression>",
		Short: "Parse a cohort expression against the loaded definitions",
		Example: `  cohort-reporting parse --definitions-dir ./definitions '[Male] AND [AgeRange|minAge=15]'
  cohort-reporting parse -o json --context '{"report":{"startDate":"2024-01-01"}}' \
      '[EnrolledOnDate|untilDate=${report.startDate}]'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			reg, closeReg, err := c.openRegistry(ctx, false)
			if err != nil {
				return err
			}
			defer closeReg()

			seq, err := c.newParser(reg).Parse(ctx, args[0])
			if err != nil {
				return withSuggestions(cmd, reg, err)
			}
			res := parseResult{Expression: args[0], Normalized: seq.String(), Tokens: seq}
			if res.Tokens == nil {
				res.Tokens = expr.TokenSequence{}
			}

			if context != "" {
				var bc bind.Context
				if err := json.Unmarshal([]byte(context), &bc); err != nil {
					return fmt.Errorf("invalid --context: %w", err)
				}
				if res.Bindings, err = bind.Resolve(seq, bc); err != nil {
					return err
				}
			}

			if output == "json" {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			renderParse(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table or json")
	cmd.Flags().StringVar(&context, "context", "", "JSON object of variables for ${...} placeholders")
	return cmd
}

// withSuggestions appends did-you-mean names to an unresolved reference error.
func withSuggestions(cmd *cobra.Command, reg store.Registry, err error) error {
	var ee *types.ExpressionError
	if !errors.As(err, &ee) || ee.Kind != types.KindUnresolvedReference {
		return err
	}
	names, lerr := store.Names(cmd.Context(), reg)
	if lerr != nil {
		return err
	}
	if s := suggest.Names(ee.Definition, names, suggest.DefaultLimit); len(s) > 0 {
		return fmt.Errorf("%w (did you mean %s?)", err, strings.Join(s, ", "))
	}
	return err
}

func renderParse(w io.Writer, res parseResult) {
	_, _ = fmt.Fprintf(w, "normalized: %s\n", res.Normalized)
	if len(res.Tokens) == 0 {
		_, _ = fmt.Fprintln(w, "(0 tokens)")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Type", "Definition", "Kind", "Bindings", "Pos"})
	for i, tok := range res.Tokens {
		if tok.IsOperator() {
			t.AppendRow(table.Row{i, "operator", tok.Operator.String(), "", "", ""})
			continue
		}
		ref := tok.Reference
		var bound []string
		for _, p := range ref.Parameters() {
			if p.Bound {
				bound = append(bound, p.Name+"="+p.Value)
			}
		}
		t.AppendRow(table.Row{i, "reference", ref.Name(), string(ref.Definition.Kind), strings.Join(bound, " "), ref.Pos})
	}
	t.Render()

	if len(res.Bindings) == 0 {
		return
	}
	b := table.NewWriter()
	b.SetOutputMirror(w)
	b.SetStyle(table.StyleLight)
	b.AppendHeader(table.Row{"Definition", "Parameter", "Type", "Value", "Source"})
	for _, binding := range res.Bindings {
		for _, v := range binding.Values {
			b.AppendRow(table.Row{binding.Definition, v.Parameter.Name, string(v.Parameter.Type), formatValue(v.Value), string(v.Source)})
		}
	}
	b.Render()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
