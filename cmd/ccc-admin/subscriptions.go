package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sutto4/ccc-sub004/internal/pkg/bootstrap"
)

var subscriptionsCmd = &cobra.Command{
	Use:   "subscriptions",
	Short: "Subscription allocation commands",
}

var subscriptionsReconcileCmd = &cobra.Command{
	Use:   "reconcile [subscription-id]",
	Short: "Rewrite used server counts from active allocations",
	Long:  `Recounts active allocations for one subscription, or for every subscription when no id is given.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd, func(ctx context.Context, s *bootstrap.Services) error {
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				usage, err := s.Allocations.Reconcile(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: %d/%d servers\n", usage.SubscriptionID, usage.UsedServers, usage.MaxServers)
				return nil
			}
			checked, err := s.Allocations.ReconcileAll(ctx)
			fmt.Fprintf(out, "reconciled %d subscriptions\n", checked)
			return err
		})
	},
}

var subscriptionsUsageCmd = &cobra.Command{
	Use:   "usage <subscription-id>",
	Short: "Show used and maximum servers of a subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd, func(ctx context.Context, s *bootstrap.Services) error {
			usage, err := s.Allocations.Usage(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d/%d servers\n", usage.SubscriptionID, usage.UsedServers, usage.MaxServers)
			return nil
		})
	},
}

func init() {
	subscriptionsCmd.AddCommand(subscriptionsReconcileCmd)
	subscriptionsCmd.AddCommand(subscriptionsUsageCmd)
}
