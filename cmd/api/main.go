package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/yigit/coursechat/internal/pkg/logger"
	"github.com/yigit/coursechat/internal/server"
)

// @title coursechat API
// @version 1.0
// @description Channel history, sends and realtime delivery for course chat
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "api",
		Short:         "Run the coursechat server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			srv, err := server.NewServer(configPath)
			if err != nil {
				logger.Error().Err(err).Msg("Failed to initialize server")
				return err
			}
			return srv.Run(cmd.Context())
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", filepath.Join("configs", "config.yaml"), "path to the YAML config file")

	if err := rootCmd.Execute(); err != nil {
		logger.Error().Err(err).Msg("Server execution failed or shutdown encountered errors")
		os.Exit(1)
	}

	logger.Info().Msg("Application finished gracefully.")
}
