package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sutto4/ccc-sub004/internal/pkg/bootstrap"
	"github.com/sutto4/ccc-sub004/internal/pkg/config"
	"github.com/sutto4/ccc-sub004/internal/pkg/env"
)

var commandTimeout time.Duration

// loadServices is swapped out by tests.
var loadServices = func() (*bootstrap.Services, error) {
	env.SetupEnvFile()
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return bootstrap.New(cfg)
}

var rootCmd = &cobra.Command{
	Use:           "ccc-admin",
	Short:         "Operator commands for the guild console",
	Long:          `Runs batch operations against the console store: feature toggles, quota pruning and subscription reconciliation.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().DurationVar(&commandTimeout, "timeout", 10*time.Minute, "abort the command after this long")

	rootCmd.AddCommand(featuresCmd)
	rootCmd.AddCommand(quotaCmd)
	rootCmd.AddCommand(subscriptionsCmd)
	rootCmd.AddCommand(plansCmd)
}

// withServices runs fn with freshly loaded services and a bounded context.
func withServices(cmd *cobra.Command, fn func(ctx context.Context, s *bootstrap.Services) error) error {
	s, err := loadServices()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()
	return fn(ctx, s)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
