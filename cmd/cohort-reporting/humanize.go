package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lemonberrylabs/cohort-reporting/pkg/api"
	"github.com/lemonberrylabs/cohort-reporting/pkg/timespan"
)

func (c *cli) newHumanizeCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "humanize <reference> <other>",
		Short: "Describe how long before reference the other instant lies",
		Long: `Describe how long before <reference> the instant <other> lies, e.g.
"10 days ago". Both accept RFC 3339 timestamps or YYYY-MM-DD dates, and
<reference> may be "now".`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reference := time.Now()
			if !strings.EqualFold(args[0], "now") {
				var err error
				if reference, err = api.ParseInstant(args[0]); err != nil {
					return fmt.Errorf("reference: %w", err)
				}
			}
			other, err := api.ParseInstant(args[1])
			if err != nil {
				return fmt.Errorf("other: %w", err)
			}

			loc := timespan.ParseLocale(c.cfg.UI.Locale)
			phrase := timespan.Humanize(reference, other)
			text := loc.Render(phrase)

			if output == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"phrase": phrase,
					"keys":   timespan.Keys(phrase),
					"text":   text,
					"locale": loc.Language().String(),
				})
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text or json")
	return cmd
}
