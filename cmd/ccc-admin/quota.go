package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sutto4/ccc-sub004/internal/pkg/bootstrap"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Quota ledger commands",
}

var quotaPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete usage events older than QUOTA_RETENTION",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd, func(ctx context.Context, s *bootstrap.Services) error {
			deleted, err := s.Ledger.Prune(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d events\n", deleted)
			return nil
		})
	},
}

var quotaStatusCmd = &cobra.Command{
	Use:   "status [service]",
	Short: "Show current window usage per configured limit",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		service := ""
		if len(args) == 1 {
			service = args[0]
		}
		return withServices(cmd, func(ctx context.Context, s *bootstrap.Services) error {
			statuses, err := s.Ledger.GetQuotaStatus(ctx, service)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SERVICE\tTYPE\tUSED\tLIMIT\tREMAINING\tWINDOW")
			for _, st := range statuses {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
					st.Service, st.QuotaType, st.CurrentWindowUsage, st.Limit, st.Remaining, st.Window)
			}
			return w.Flush()
		})
	},
}

func init() {
	quotaCmd.AddCommand(quotaPruneCmd)
	quotaCmd.AddCommand(quotaStatusCmd)
}
