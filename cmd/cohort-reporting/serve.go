package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lemonberrylabs/cohort-reporting/pkg/api"
	grpcapi "github.com/lemonberrylabs/cohort-reporting/pkg/api/grpc"
	"github.com/lemonberrylabs/cohort-reporting/pkg/loader"
	"github.com/lemonberrylabs/cohort-reporting/web"
)

func (c *cli) newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API, gRPC API and web UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx)
		},
	}
	cmd.Flags().String("http-addr", "", "HTTP listen address (default :8787, env COHORT_HTTP_ADDR)")
	cmd.Flags().String("grpc-addr", "", "gRPC listen address, empty to disable (default :8788, env COHORT_GRPC_ADDR)")
	cmd.Flags().Bool("watch", false, "Reload definition files when they change (env COHORT_DEFINITIONS_WATCH)")
	return cmd
}

func (c *cli) serve(ctx context.Context) error {
	cfg := c.cfg
	reg, closeReg, err := c.openRegistry(ctx, cfg.Definitions.Watch)
	if err != nil {
		return err
	}
	defer closeReg()

	parser := c.newParser(reg)
	opts := []api.Option{
		api.WithLogger(c.logger),
		api.WithParser(parser),
		api.WithLocale(cfg.UI.Locale),
	}
	if c.logger.Enabled(ctx, slog.LevelDebug) {
		opts = append(opts, api.WithAccessLog(os.Stderr))
	}
	server := api.New(reg, opts...)
	web.New(reg, cfg.UI.Locale, web.WithParser(parser)).Register(server.App())

	eg, egctx := errgroup.WithContext(ctx)

	if cfg.Definitions.Watch {
		l := loader.New(reg, c.logger)
		eg.Go(func() error {
			return l.Watch(egctx, cfg.Definitions.Dir)
		})
	}

	if cfg.GRPC.Addr != "" {
		grpcServer := grpcapi.New(reg,
			grpcapi.WithLogger(c.logger),
			grpcapi.WithParser(parser),
			grpcapi.WithLocale(cfg.UI.Locale))
		eg.Go(func() error {
			c.logger.Info("gRPC server listening", slog.String("addr", cfg.GRPC.Addr))
			return grpcServer.Serve(cfg.GRPC.Addr)
		})
		eg.Go(func() error {
			<-egctx.Done()
			grpcServer.GracefulStop()
			return nil
		})
	}

	eg.Go(func() error {
		c.logger.Info("cohort-reporting listening",
			slog.String("addr", cfg.HTTP.Addr),
			slog.String("store", cfg.Store.Backend),
			slog.String("definitions", cfg.Definitions.Dir))
		return server.Listen(cfg.HTTP.Addr)
	})
	eg.Go(func() error {
		<-egctx.Done()
		c.logger.Info("shutting down")
		return server.Shutdown()
	})

	return eg.Wait()
}
