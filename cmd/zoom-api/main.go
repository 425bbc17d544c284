package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ZoomSpectra/internal/api"
	"ZoomSpectra/internal/config"
	"ZoomSpectra/internal/pkg/logger"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	listenAddr string
	source     string
	snapshots  string
)

var rootCmd = &cobra.Command{
	Use:          "zoom-api",
	Short:        "Serve the latest meetings report over HTTP",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "configs/config.yaml", "config file")
	rootCmd.Flags().StringVar(&listenAddr, "listen", "", "listen address (overrides api.listen_addr)")
	rootCmd.Flags().StringVar(&source, "source", "", "report source: snapshot or clickhouse")
	rootCmd.Flags().StringVar(&snapshots, "snapshots", "", "snapshot root directory")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return err
	}
	if err := logger.Setup(cfg.Log); err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.API.ListenAddr = listenAddr
	}
	if source != "" {
		cfg.API.Source = source
	}
	if snapshots != "" {
		cfg.API.SnapshotPath = snapshots
	}

	// Initialize querier and router
	querier, err := api.NewQuerier(cfg.API)
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:         cfg.API.ListenAddr,
		Handler:      api.NewRouter(querier),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("API server starting on %s (source %s)", server.Addr, cfg.API.Source)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return err
	}
	log.Println("API server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return err
	}
	log.Println("API server exited.")
	return nil
}
