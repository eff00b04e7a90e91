package cmd

import (
	"os"

	"ecrdeploy/internal/config"
	"ecrdeploy/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ecrdeploy",
	Short: "Deploy a private ECR image to a fresh EC2 instance behind nginx",
	Long: `ecrdeploy launches an EC2 instance, pulls a container image from a private
ECR registry onto it over SSH, runs it and exposes it through nginx under the
configured subdomains and endpoint.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default $CONFIG_PATH or "+config.DefaultPath+")")
}

func loadConfig() *config.Config {
	logging.Logger().Info("Loading configuration")
	cfg, err := config.Load(configPath)
	if err != nil {
		logging.Logger().Fatal("Failed to load configuration", zap.Error(err))
	}
	return cfg
}
