// Package main implements the brickd server binary: the in-process
// handle store behind a spreadsheet caller adapter.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/brickd/internal/bricks"
	"github.com/fyrsmithlabs/brickd/internal/config"
	"github.com/fyrsmithlabs/brickd/internal/handle"
	"github.com/fyrsmithlabs/brickd/internal/logging"
	"github.com/fyrsmithlabs/brickd/internal/script"
	"github.com/fyrsmithlabs/brickd/pkg/server"
)

var (
	configPath string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "brickd",
	Short:   "In-process handle store for spreadsheet callers",
	Long:    `brickd holds complex nested values by reference and hands short "name:version" strings back to spreadsheet cells.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the brickd version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the brickd HTTP caller adapter",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	table := handle.NewTable(logger.Named("handle"))
	bridge := script.NewBridge(logger.Named("script"))
	service := bricks.NewService(table, bridge, logger.Named("bricks"), prometheus.DefaultRegisterer)
	srv := server.NewServer(cfg, service, logger.Named("server"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("brickd starting",
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
		zap.Bool("script", cfg.Script.Enabled))

	if err := srv.Start(ctx); err != nil && err != http.ErrServerClosed {
		return err
	}
	logger.Info("brickd stopped")
	return nil
}
