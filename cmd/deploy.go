package cmd

import (
	"context"
	"fmt"

	"ecrdeploy/internal/deploy"
	"ecrdeploy/internal/faults"
	"ecrdeploy/internal/logging"
	"ecrdeploy/internal/state"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var deployImage string

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Create an instance and deploy the configured image",
	Long: `Launch a new EC2 instance, install docker and nginx on it, pull and run the
image from ECR and expose it through nginx. A failed deployment is not rolled
back; its instance is recorded with status "failed" so it can be inspected
with status or stopped.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if deployImage != "" {
			cfg.Container.Image = deployImage
		}
		if err := cfg.ValidateDeploy(); err != nil {
			logging.Logger().Fatal("Invalid configuration", zap.Error(err))
		}

		ctx := context.Background()
		awsCfg := awsConfig(ctx, cfg)
		controller := newController(awsCfg, cfg, newDialer(cfg))
		deployer := deploy.NewDeployer(controller, newAuthenticator(awsCfg))

		store := openStore(cfg)
		defer store.Close()

		req := deploy.RequestFromConfig(cfg)
		result, err := deployer.Deploy(ctx, req)
		if err != nil {
			step, _ := faults.FailedStep(err)
			// An instance created before the failure stays up; record it so
			// status and stop can find it.
			if result != nil {
				saveRecord(ctx, store, result.Record(req, err))
			}
			logFailure("Deployment failed", err, zap.String("step", step))
		}

		saveRecord(ctx, store, result.Record(req, nil))

		fmt.Printf("Instance: %s\n", result.InstanceID)
		fmt.Printf("URL: %s\n", result.URL)
	},
}

func init() {
	rootCmd.AddCommand(deployCmd)

	deployCmd.Flags().StringVarP(&deployImage, "image", "i", "", "Image reference to deploy (overrides container.image)")
}

func saveRecord(ctx context.Context, store state.Store, record state.Deployment) {
	if err := store.Save(ctx, record); err != nil {
		logging.Logger().Warn("Failed to record deployment",
			zap.String("instance_id", record.InstanceID), zap.Error(err))
	}
}
