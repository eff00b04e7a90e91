package cmd

import (
	"context"
	"fmt"

	"ecrdeploy/internal/logging"
	"ecrdeploy/internal/provisioning"
	"ecrdeploy/internal/state"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var stopCmd = &cobra.Command{
	Use:   "stop <instance-id>",
	Short: "Stop a running instance",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if err := cfg.ValidateAWS(); err != nil {
			logging.Logger().Fatal("Invalid configuration", zap.Error(err))
		}

		ctx := context.Background()
		// Stopping never needs a session, so no SSH identity is loaded.
		controller := newController(awsConfig(ctx, cfg), cfg, nil)

		store := openStore(cfg)
		defer store.Close()

		if err := controller.Stop(ctx, args[0]); err != nil {
			logFailure("Failed to stop instance", err)
		}

		// Public addresses are released on stop.
		updateRecord(ctx, store, args[0], func(d *state.Deployment) {
			d.Status = string(provisioning.StateStopped)
			d.PublicDNS = ""
			d.PublicIP = ""
		})

		fmt.Printf("Instance %s is %s\n", args[0], provisioning.StateStopped)
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}
