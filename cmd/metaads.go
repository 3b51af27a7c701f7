package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/funnel-cli/internal/metaads"
)

var metaadsTenant string

var metaadsCmd = &cobra.Command{
	Use:   "metaads",
	Short: "Meta ads data",
}

var metaadsSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Snapshot trailing seven-day ad insights into meta_ad_insights",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "job")
		if err != nil {
			return err
		}
		defer env.Close()

		t, err := env.activeTenant(ctx, metaadsTenant)
		if err != nil {
			return err
		}
		creds, err := env.Dir.Meta(ctx, t)
		if err != nil {
			return err
		}

		res, err := metaads.NewSyncer(env.Pool, newMetaClient()).Sync(ctx, t.ID, creds)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d ads, %d insights, spend %.2f, leads %d\n",
			t.Slug, res.SnapshotDate.Format(time.DateOnly), res.Ads, res.Insights, res.Spend, res.Leads)
		return nil
	},
}

func init() {
	metaadsSyncCmd.Flags().StringVar(&metaadsTenant, "tenant", "", "tenant slug (default server.default_tenant)")
	metaadsCmd.AddCommand(metaadsSyncCmd)
	rootCmd.AddCommand(metaadsCmd)
}
