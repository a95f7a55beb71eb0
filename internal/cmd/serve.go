package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cameronsjo/rigging/internal/compose"
	"github.com/cameronsjo/rigging/internal/config"
	"github.com/cameronsjo/rigging/internal/lock"
	"github.com/cameronsjo/rigging/internal/server"
	"github.com/cameronsjo/rigging/internal/store"
	"github.com/cameronsjo/rigging/internal/ui"
)

var serveAddr string

// serveCmd runs the Composition API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Composition API",
	Long: `Run the Composition API over HTTP.

The server holds the data directory lock while it runs, so local mutating
commands must go through it with --server.

Configuration (rigging.yaml or RIGGING_* environment variables):
  listen_addr         Address to listen on (default :8080)
  data_dir            Data directory (default .rigging)
  store.driver        sqlite or memory (default sqlite)
  store.path          sqlite file (default <data_dir>/rigging.db)
  compose_timeout     Per-request composition timeout (default 10s)
  default_namespace   Namespace for new resources (default "default")
  read_timeout, write_timeout, shutdown_timeout`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides listen_addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if serveAddr != "" {
		cfg.ListenAddr = serveAddr
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg)
}

// serve runs the API until ctx is done.
func serve(ctx context.Context, cfg *config.Config) error {
	if cfg.Store.Driver == store.DriverSQLite {
		lk := lock.New(cfg.DataDir, lockName)
		if err := lk.Acquire(); err != nil {
			return err
		}
		defer lk.Release()
	}

	st, err := cfg.OpenStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if cfg.File != "" {
		ui.Info("Using config %s", cfg.File)
	}
	ui.Info("Store: %s %s", cfg.Store.Driver, cfg.Store.Path)

	svc := compose.NewService(st, compose.Options{
		ComposeTimeout:   cfg.ComposeTimeout,
		DefaultNamespace: cfg.DefaultNamespace,
	})
	srv := server.New(svc, server.Config{
		Addr:            cfg.ListenAddr,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	})

	if err := srv.Run(ctx); err != nil {
		return err
	}
	ui.Success("Server stopped")
	return nil
}
