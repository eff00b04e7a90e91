package cmd

import (
	"context"
	"fmt"

	"ecrdeploy/internal/logging"
	"ecrdeploy/internal/state"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var startCmd = &cobra.Command{
	Use:   "start <instance-id>",
	Short: "Start a stopped instance and reconnect to it",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if err := cfg.ValidateLifecycle(); err != nil {
			logging.Logger().Fatal("Invalid configuration", zap.Error(err))
		}

		ctx := context.Background()
		controller := newController(awsConfig(ctx, cfg), cfg, newDialer(cfg))
		defer controller.CloseSession()

		store := openStore(cfg)
		defer store.Close()

		instance, err := controller.Start(ctx, args[0])
		if err != nil {
			logFailure("Failed to start instance", err)
		}

		updateRecord(ctx, store, instance.ID, func(d *state.Deployment) {
			d.Status = string(instance.State)
			d.PublicDNS = instance.PublicDNS
			d.PublicIP = instance.PublicIP
		})

		fmt.Printf("Instance %s is %s\n", instance.ID, instance.State)
		fmt.Printf("DNS: %s\n", instance.PublicDNS)
		fmt.Printf("IP: %s\n", instance.PublicIP)
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}
