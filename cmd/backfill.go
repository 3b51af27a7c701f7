package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/funnel-cli/internal/backfill"
)

var (
	backfillTenant      string
	backfillOnlyMissing bool
	backfillWorkers     int
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Recompute contact purchase fields from linked payments",
	Long:  "Recomputes purchase date, amount, count and stage for every contact with counting payments.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "job")
		if err != nil {
			return err
		}
		defer env.Close()

		tenantID, err := scopeTenantID(ctx, env, backfillTenant)
		if err != nil {
			return err
		}
		workers := backfillWorkers
		if workers == 0 {
			workers = cfg.Backfill.Concurrency
		}

		rep, err := backfill.NewRepairer(env.Pool, env.Payments, env.BatchResolver, env.Updater).
			Recompute(ctx, tenantID, backfillOnlyMissing, workers)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "contacts %d, updated %d, errors %d\n", rep.Contacts, rep.Updated, rep.Errors)
		return nil
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillTenant, "tenant", "", "tenant slug (default all tenants)")
	backfillCmd.Flags().BoolVar(&backfillOnlyMissing, "only-missing", false, "only contacts with no purchase date")
	backfillCmd.Flags().IntVar(&backfillWorkers, "concurrency", 0, "parallel updates (default backfill.concurrency)")
	rootCmd.AddCommand(backfillCmd)
}
