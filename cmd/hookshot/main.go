package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shohag/hookshot/internal/api"
	"github.com/shohag/hookshot/internal/delivery"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          "hookshot",
		Short:        "hookshot: webhook dispatch and delivery service",
		SilenceUsage: true,
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(endpointCmd(&configPath))
	rootCmd.AddCommand(dispatchCmd(&configPath))
	rootCmd.AddCommand(deliveriesCmd(&configPath))
	rootCmd.AddCommand(requeueCmd(&configPath))
	rootCmd.AddCommand(statsCmd(&configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the delivery worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			cfg, log := rt.cfg, rt.log
			svc := delivery.NewService(cfg.Delivery, rt.store, rt.queue, log)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			svc.Pool.Start(ctx)

			server := api.NewServer(cfg.Server, rt.store, svc, cfg.Delivery.DefaultRetryPolicy, log)
			go func() {
				if err := server.Start(); err != nil && err != http.ErrServerClosed {
					log.Fatal().Err(err).Msg("server error")
				}
			}()

			log.Info().
				Str("version", version).
				Int("port", cfg.Server.Port).
				Int("workers", cfg.Delivery.Workers).
				Str("storage", cfg.Storage.Driver).
				Str("queue", cfg.Queue.Driver).
				Msg("hookshot is running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down...")

			if err := server.Shutdown(10 * time.Second); err != nil {
				log.Error().Err(err).Msg("server shutdown error")
			}

			svc.Pool.Stop()

			log.Info().Msg("hookshot stopped")
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer rt.Close()

			rt.log.Info().Msg("migrations completed successfully")
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hookshot v%s\n", version)
		},
	}
}
