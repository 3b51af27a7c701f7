package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-cli/internal/backfill"
	"github.com/sells-group/funnel-cli/internal/model"
	"github.com/sells-group/funnel-cli/internal/payment"
)

var (
	orphansTenant      string
	orphansSince       string
	orphansLimit       int
	orphansDryRun      bool
	orphansConcurrency int
	orphansOut         string
)

var orphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "Inspect and repair payments with no linked contact",
}

// parseSince parses a YYYY-MM-DD lower bound. Empty means no bound.
func parseSince(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "parse --since %q", s)
	}
	return t, nil
}

// scopeTenantID maps an optional slug to a tenant id. Empty scopes every
// tenant.
func scopeTenantID(ctx context.Context, env *appEnv, slug string) (string, error) {
	if slug == "" {
		return "", nil
	}
	t, err := env.activeTenant(ctx, slug)
	if err != nil {
		return "", err
	}
	return t.ID, nil
}

func orphanFilter(ctx context.Context, env *appEnv) (payment.OrphanFilter, error) {
	since, err := parseSince(orphansSince)
	if err != nil {
		return payment.OrphanFilter{}, err
	}
	tenantID, err := scopeTenantID(ctx, env, orphansTenant)
	if err != nil {
		return payment.OrphanFilter{}, err
	}
	return payment.OrphanFilter{TenantID: tenantID, Since: since, Limit: orphansLimit}, nil
}

var orphansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List orphaned payments",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "job")
		if err != nil {
			return err
		}
		defer env.Close()

		f, err := orphanFilter(ctx, env)
		if err != nil {
			return err
		}
		orphans, err := env.Payments.ListOrphans(ctx, f)
		if err != nil {
			return err
		}
		return writeOrphanTable(cmd.OutOrStdout(), orphans)
	},
}

var orphansRepairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Re-run contact resolution for orphaned payments and link matches",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "job")
		if err != nil {
			return err
		}
		defer env.Close()

		f, err := orphanFilter(ctx, env)
		if err != nil {
			return err
		}
		workers := orphansConcurrency
		if workers == 0 {
			workers = cfg.Backfill.Concurrency
		}
		if f.Limit == 0 {
			f.Limit = cfg.Backfill.BatchLimit
		}

		rep, err := backfill.NewRepairer(env.Pool, env.Payments, env.BatchResolver, env.Updater).Run(ctx, backfill.RepairOptions{
			TenantID:    f.TenantID,
			Since:       f.Since,
			Limit:       f.Limit,
			DryRun:      orphansDryRun,
			Concurrency: workers,
		})
		if err != nil {
			return err
		}
		return writeRepairReport(cmd.OutOrStdout(), rep, orphansDryRun)
	},
}

var orphansExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export orphaned payments to an xlsx workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "job")
		if err != nil {
			return err
		}
		defer env.Close()

		f, err := orphanFilter(ctx, env)
		if err != nil {
			return err
		}
		orphans, err := env.Payments.ListOrphans(ctx, f)
		if err != nil {
			return err
		}

		out, err := os.Create(orphansOut)
		if err != nil {
			return eris.Wrapf(err, "create %s", orphansOut)
		}
		defer out.Close() //nolint:errcheck

		if err := backfill.ExportOrphans(out, orphans); err != nil {
			return err
		}
		zap.L().Info("orphans exported", zap.String("path", orphansOut), zap.Int("count", len(orphans)))
		return nil
	},
}

func writeOrphanTable(w io.Writer, orphans []model.Payment) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tEVENT ID\tEMAIL\tNAME\tAMOUNT\tCATEGORY\tSOURCE")
	for _, p := range orphans {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%s\t%s\n",
			p.PaymentDate.UTC().Format(time.DateOnly), p.PaymentEventID, p.CustomerEmail,
			p.CustomerName, p.Amount, p.Category, p.PaymentSource)
	}
	fmt.Fprintf(tw, "\n%d orphaned payments\n", len(orphans))
	return eris.Wrap(tw.Flush(), "write orphan table")
}

func writeRepairReport(w io.Writer, rep *backfill.RepairReport, dryRun bool) error {
	verb := "linked"
	if dryRun {
		verb = "would link"
	}
	fmt.Fprintf(w, "scanned %d: %s %d, still orphaned %d, lookup failed %d, errors %d\n",
		rep.Scanned, verb, rep.Linked, rep.StillOrphaned, rep.LookupFailed, rep.Errors)

	methods := make([]string, 0, len(rep.ByMethod))
	for m := range rep.ByMethod {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	for _, m := range methods {
		fmt.Fprintf(w, "  %-12s %d\n", m, rep.ByMethod[m])
	}

	if len(rep.Changes) == 0 {
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EVENT ID\tCONTACT\tMETHOD\tCONFIDENCE\tAMOUNT")
	for _, c := range rep.Changes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%.2f\n", c.PaymentEventID, c.ContactID, c.Method, c.Confidence, c.Amount)
	}
	return eris.Wrap(tw.Flush(), "write repair report")
}

func init() {
	for _, c := range []*cobra.Command{orphansListCmd, orphansRepairCmd, orphansExportCmd} {
		c.Flags().StringVar(&orphansTenant, "tenant", "", "tenant slug (default all tenants)")
		c.Flags().StringVar(&orphansSince, "since", "", "only payments on or after this date (YYYY-MM-DD)")
		c.Flags().IntVar(&orphansLimit, "limit", 0, "maximum orphans to process (0 = no limit, repair defaults to backfill.batch_limit)")
	}
	orphansRepairCmd.Flags().BoolVar(&orphansDryRun, "dry-run", false, "report matches without writing")
	orphansRepairCmd.Flags().IntVar(&orphansConcurrency, "concurrency", 0, "parallel resolutions (default backfill.concurrency)")
	orphansExportCmd.Flags().StringVar(&orphansOut, "out", "orphans.xlsx", "output workbook path")

	orphansCmd.AddCommand(orphansListCmd, orphansRepairCmd, orphansExportCmd)
	rootCmd.AddCommand(orphansCmd)
}
