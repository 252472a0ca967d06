package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sutto4/ccc-sub004/app/models"
	"github.com/sutto4/ccc-sub004/internal/pkg/bootstrap"
	"github.com/sutto4/ccc-sub004/internal/pkg/entitlements"
	"github.com/sutto4/ccc-sub004/internal/pkg/jobqueue"
)

var (
	toggleAllGuilds bool
	toggleGuildID   string
	toggleEnabled   bool
	toggleEnqueue   bool

	featureName     string
	featurePackage  string
	featureInactive bool
	featureDefault  bool
)

var featuresCmd = &cobra.Command{
	Use:   "features",
	Short: "Feature catalog and toggle commands",
}

var featuresListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the feature catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd, func(ctx context.Context, s *bootstrap.Services) error {
			features, err := s.Catalog.List(ctx)
			if err != nil {
				return err
			}
			defaults, err := s.Catalog.Defaults(ctx)
			if err != nil {
				return err
			}
			enabled := make(map[string]bool, len(defaults))
			for _, d := range defaults {
				enabled[d.FeatureKey] = d.Enabled
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tPACKAGE\tACTIVE\tDEFAULT")
			for _, f := range features {
				fmt.Fprintf(w, "%s\t%s\t%t\t%t\n", f.FeatureKey, f.MinimumPackage, f.IsActive, enabled[f.FeatureKey])
			}
			return w.Flush()
		})
	},
}

var featuresSetCmd = &cobra.Command{
	Use:   "set <feature-key>",
	Short: "Create or update a catalog entry",
	Args:  cobra.ExactArgs(1),
	Example: `  ccc-admin features set custom-commands --name "Custom commands" --package premium
  ccc-admin features set legacy-polls --name "Legacy polls" --inactive`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd, func(ctx context.Context, s *bootstrap.Services) error {
			f := &models.Feature{
				FeatureKey:     args[0],
				DisplayName:    featureName,
				MinimumPackage: featurePackage,
				IsActive:       !featureInactive,
			}
			if err := s.Catalog.Upsert(ctx, f); err != nil {
				return err
			}
			if cmd.Flags().Changed("default") {
				if err := s.Catalog.SetDefault(ctx, f.FeatureKey, featureDefault); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%s, active=%t)\n", f.FeatureKey, f.MinimumPackage, f.IsActive)
			return nil
		})
	},
}

var featuresToggleCmd = &cobra.Command{
	Use:   "toggle <feature-key>...",
	Short: "Switch features on or off for one guild or every guild",
	Args:  cobra.MinimumNArgs(1),
	Example: `  ccc-admin features toggle welcome --all --enabled=false
  ccc-admin features toggle embedded-roles --guild 1234567890 --enabled
  ccc-admin features toggle welcome --all --enabled --enqueue`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if toggleAllGuilds == (toggleGuildID != "") {
			return fmt.Errorf("set exactly one of --all and --guild")
		}
		return withServices(cmd, func(ctx context.Context, s *bootstrap.Services) error {
			out := cmd.OutOrStdout()
			if toggleEnqueue {
				if s.Queue == nil {
					return fmt.Errorf("--enqueue needs a reachable redis server")
				}
				job, err := s.Queue.EnqueueBulkFeatureToggle(ctx, jobqueue.BulkFeatureTogglePayload{
					AllGuilds:   toggleAllGuilds,
					GuildID:     toggleGuildID,
					FeatureKeys: args,
					Enabled:     toggleEnabled,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "enqueued job %s\n", job.ID)
				return nil
			}

			scope := entitlements.GuildScope(toggleGuildID)
			if toggleAllGuilds {
				scope = entitlements.AllGuildsScope()
			}
			res, err := s.Resolver.ApplyBulkToggle(ctx, scope, args, toggleEnabled)
			fmt.Fprintf(out, "guilds=%d written=%d skipped=%d failed_batches=%d\n",
				res.Guilds, res.Written, res.Skipped, res.FailedBatches)
			return err
		})
	},
}

func init() {
	featuresSetCmd.Flags().StringVar(&featureName, "name", "", "display name")
	featuresSetCmd.Flags().StringVar(&featurePackage, "package", models.PackageFree, "minimum package (free or premium)")
	featuresSetCmd.Flags().BoolVar(&featureInactive, "inactive", false, "deactivate the feature for every guild")
	featuresSetCmd.Flags().BoolVar(&featureDefault, "default", false, "enable the feature for guilds without an override")
	_ = featuresSetCmd.MarkFlagRequired("name")

	featuresToggleCmd.Flags().BoolVar(&toggleAllGuilds, "all", false, "toggle for every guild")
	featuresToggleCmd.Flags().StringVar(&toggleGuildID, "guild", "", "toggle for one guild")
	featuresToggleCmd.Flags().BoolVar(&toggleEnabled, "enabled", true, "target state")
	featuresToggleCmd.Flags().BoolVar(&toggleEnqueue, "enqueue", false, "run on the job queue instead of in this process")

	featuresCmd.AddCommand(featuresListCmd)
	featuresCmd.AddCommand(featuresSetCmd)
	featuresCmd.AddCommand(featuresToggleCmd)
}
