package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sutto4/ccc-sub004/app/models"
	"github.com/sutto4/ccc-sub004/internal/pkg/bootstrap"
)

var (
	planType       string
	planMaxServers int
	planInactive   bool
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Billing plan mapping commands",
}

var plansSetCmd = &cobra.Command{
	Use:     "set <provider> <plan-ref>",
	Short:   "Map a provider plan reference to a plan type and capacity",
	Args:    cobra.ExactArgs(2),
	Example: `  ccc-admin plans set stripe price_squad_monthly --type squad --max-servers 3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if planMaxServers <= 0 {
			return fmt.Errorf("--max-servers must be positive")
		}
		return withServices(cmd, func(ctx context.Context, s *bootstrap.Services) error {
			m := &models.BillingPlanMapping{
				Provider:        strings.ToLower(strings.TrimSpace(args[0])),
				ProviderPlanRef: strings.TrimSpace(args[1]),
				PlanType:        strings.ToLower(strings.TrimSpace(planType)),
				MaxServers:      planMaxServers,
				IsActive:        !planInactive,
			}
			if err := s.Store.Repositories().PlanMapping.Upsert(ctx, m); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mapped %s/%s to %s (%d servers)\n", m.Provider, m.ProviderPlanRef, m.PlanType, m.MaxServers)
			return nil
		})
	},
}

func init() {
	plansSetCmd.Flags().StringVar(&planType, "type", "solo", "internal plan type")
	plansSetCmd.Flags().IntVar(&planMaxServers, "max-servers", 1, "guild slots granted by the plan")
	plansSetCmd.Flags().BoolVar(&planInactive, "inactive", false, "store the mapping as inactive")
	plansCmd.AddCommand(plansSetCmd)
}
