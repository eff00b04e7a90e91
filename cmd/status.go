package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ecrdeploy/internal/logging"
	"ecrdeploy/internal/state"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status <instance-id>",
	Short: "Show the recorded deployment for an instance",
	Long:  `Print the stored record of a deployment: image, URL, addresses and the last known status.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		store := openStore(cfg)
		defer store.Close()

		d, err := store.Get(context.Background(), args[0])
		if errors.Is(err, state.ErrNotFound) {
			logging.Logger().Fatal("No deployment recorded for instance", zap.String("instance_id", args[0]))
		}
		if err != nil {
			logging.Logger().Fatal("Could not get status", zap.Error(err))
		}

		fmt.Printf("Instance: %s\n", d.InstanceID)
		fmt.Printf("Deployment ID: %s\n", d.DeploymentID)
		fmt.Printf("Status: %s\n", d.Status)
		if d.Error != "" {
			fmt.Printf("Error: %s\n", d.Error)
		}
		fmt.Printf("Image: %s\n", d.Image)
		if d.URL != "" {
			fmt.Printf("URL: %s\n", d.URL)
		}
		if d.PublicDNS != "" {
			fmt.Printf("DNS: %s\n", d.PublicDNS)
			fmt.Printf("IP: %s\n", d.PublicIP)
		}
		fmt.Printf("Created: %s\n", d.CreatedAt.Format(time.RFC3339))
		fmt.Printf("Updated: %s\n", d.UpdatedAt.Format(time.RFC3339))
	},
}

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded deployments",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		store := openStore(cfg)
		defer store.Close()

		deployments, err := store.List(context.Background())
		if err != nil {
			logging.Logger().Fatal("Could not list deployments", zap.Error(err))
		}
		if len(deployments) == 0 {
			fmt.Println("No deployments recorded")
			return
		}
		for _, d := range deployments {
			fmt.Printf("- [%s] %s (%s): %s\n", d.InstanceID, d.Image, d.Status, d.URL)
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
}
