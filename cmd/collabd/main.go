package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lakshmih20/S3-CodeCollab-2025/internal/app"
	"github.com/lakshmih20/S3-CodeCollab-2025/internal/config"
	"github.com/lakshmih20/S3-CodeCollab-2025/internal/log"
)

func main() {
	var (
		configPath string
		port       int
		logLevel   string
	)

	root := &cobra.Command{
		Use:          "collabd",
		Short:        "Realtime collaboration server for shared coding sessions",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			bootstrapLogger := log.New("info")
			cfg, path, err := config.Load(bootstrapLogger, configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}

			logger := log.New(cfg.LogLevel)
			logger.Info().Str("config", path).Msg("configuration loaded")

			application, err := app.New(&cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return application.Run(ctx)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to config.yaml")
	root.Flags().IntVar(&port, "port", config.Default().Port, "first port tried for the listener")
	root.Flags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
