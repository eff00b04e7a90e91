package cmd

import (
	"ecrdeploy/internal/logging"
	"ecrdeploy/internal/nginx"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var renderOutDir string

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Write the nginx config for the configured subdomains locally",
	Long: `Build the nginx server block that deploy would install and write it to
the output directory, without touching any cloud resources.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if err := cfg.ValidateNginx(); err != nil {
			logging.Logger().Fatal("Invalid configuration", zap.Error(err))
		}

		doc := nginx.Build(cfg.Nginx.FileName, cfg.Nginx.Subdomains, cfg.Nginx.Endpoint, cfg.Container.ExposedPort)
		if err := nginx.WriteLocal(renderOutDir, doc); err != nil {
			logging.Logger().Fatal("Failed to write nginx config", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().StringVarP(&renderOutDir, "out", "o", ".", "Directory to write the config into")
}
