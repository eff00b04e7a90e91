package cmd

import (
	"context"
	"fmt"

	"ecrdeploy/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var addressCmd = &cobra.Command{
	Use:   "address <instance-id>",
	Short: "Print the public DNS name and IP of an instance",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if err := cfg.ValidateAWS(); err != nil {
			logging.Logger().Fatal("Invalid configuration", zap.Error(err))
		}

		ctx := context.Background()
		controller := newController(awsConfig(ctx, cfg), cfg, nil)

		dns, ip, err := controller.Resolve(ctx, args[0])
		if err != nil {
			logFailure("Failed to resolve instance address", err)
		}

		fmt.Printf("DNS: %s\n", dns)
		fmt.Printf("IP: %s\n", ip)
	},
}

func init() {
	rootCmd.AddCommand(addressCmd)
}
