// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pdiddy/medscope/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the scoping API over HTTP",
	Long: `Serve exposes POST /v1/scope, POST /v1/scope/batch, GET /v1/reference
and GET /health. When cache.addr is configured, single-record results are
cached in Redis keyed by the canonical digest of the record. SIGINT or
SIGTERM shuts the server down gracefully.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := []server.Option{server.WithLogger(logger), server.WithVersion(version)}

	c, err := a.dialCache(ctx, cfg.Cache, logger)
	if err != nil {
		return err
	}
	if c != nil {
		defer c.Close()
		opts = append(opts, server.WithCache(c))
		logger.Info("result cache enabled", zap.String("addr", cfg.Cache.Addr))
	}

	return server.New(a.engine, cfg.Server, opts...).Run(ctx)
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default :8080)")
	viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))

	rootCmd.AddCommand(serveCmd)
}
