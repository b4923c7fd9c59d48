package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/yigit/coursechat/internal/pkg/logger"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "chatsync",
		Short:         "Terminal client for coursechat channels",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", filepath.Join("configs", "config.yaml"), "path to the YAML config file")

	rootCmd.AddCommand(newConnectCmd(&configPath), newTokenCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		logger.Error().Err(err).Msg("chatsync failed")
		os.Exit(1)
	}
}
