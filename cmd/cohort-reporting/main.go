// Package main is the entry point for the cohort-reporting server and CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/lemonberrylabs/cohort-reporting/internal/config"
	"github.com/lemonberrylabs/cohort-reporting/pkg/expr"
	"github.com/lemonberrylabs/cohort-reporting/pkg/loader"
	"github.com/lemonberrylabs/cohort-reporting/pkg/store"
	"github.com/lemonberrylabs/cohort-reporting/pkg/store/sqlite"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// cli carries state shared by the subcommands once the root command has
// loaded the configuration.
type cli struct {
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:          "cohort-reporting",
		Short:        "Cohort definition registry and expression parser",
		SilenceUsage: true,
		Version:      version + " (commit=" + commit + ", built=" + date + ")",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" || cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			return c.load(cmd)
		},
	}
	root.SetVersionTemplate("cohort-reporting version {{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgFile, "config", "", "Config file (default "+config.DefaultFile+" if present)")
	pf.String("store", "", "Definition store backend: memory or sqlite (env COHORT_STORE_BACKEND)")
	pf.String("store-path", "", "SQLite database path (env COHORT_STORE_PATH)")
	pf.String("definitions-dir", "", "Directory of definition YAML/JSON files to load (env COHORT_DEFINITIONS_DIR)")
	pf.Int("max-length", 0, "Maximum expression length in bytes, 0 for no limit (env COHORT_PARSER_MAX_LENGTH)")
	pf.String("log-level", "", "Log level: debug, info, warn or error (env COHORT_LOG_LEVEL)")
	pf.String("log-format", "", "Log format: text or json (env COHORT_LOG_FORMAT)")
	pf.String("locale", "", "Language for humanized times: en, fr or es (env COHORT_UI_LOCALE)")

	root.AddCommand(
		c.newServeCmd(),
		c.newParseCmd(),
		c.newHumanizeCmd(),
		c.newDefinitionsCmd(),
		newVersionCmd(),
	)
	return root
}

func (c *cli) load(cmd *cobra.Command) error {
	cfg, used, err := config.Load(c.cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = cfg.Log.NewLogger(cmd.ErrOrStderr())
	if used != "" {
		c.logger.Debug("loaded config file", slog.String("path", used))
	}
	return nil
}

// openRegistry opens the configured store. Unless watch is set, definition
// files from definitions.dir are loaded into it before it is returned.
func (c *cli) openRegistry(ctx context.Context, watch bool) (store.Registry, func(), error) {
	var (
		reg     store.Registry
		closeFn = func() {}
	)
	switch c.cfg.Store.Backend {
	case config.BackendSQLite:
		s, err := sqlite.Open(ctx, c.cfg.Store.Path, c.logger)
		if err != nil {
			return nil, nil, err
		}
		reg = s
		closeFn = func() {
			if err := s.Close(); err != nil {
				c.logger.Warn("closing store", slog.String("error", err.Error()))
			}
		}
	default:
		reg = store.New()
	}

	if dir := c.cfg.Definitions.Dir; dir != "" && !watch {
		n, err := loader.New(reg, c.logger).LoadDir(ctx, dir)
		if err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("loading definitions: %w", err)
		}
		c.logger.Debug("loaded definitions", slog.String("dir", dir), slog.Int("count", n))
	}
	return reg, closeFn, nil
}

func (c *cli) newParser(reg store.Registry) *expr.Parser {
	return expr.New(reg,
		expr.WithMaxLength(c.cfg.Parser.MaxLength),
		expr.WithLogger(c.logger))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "cohort-reporting version %s (commit=%s, built=%s)\n", version, commit, date)
		},
	}
}
