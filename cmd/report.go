package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-cli/internal/model"
	"github.com/sells-group/funnel-cli/internal/report"
)

var (
	reportTenant  string
	reportEnd     string
	reportDryRun  bool
	reportHTML    string
	reportMonthly bool
	reportTest    bool
	reportIntro   bool
	reportCSV     string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Build and send the weekly or monthly funnel report",
	Long: `Builds the seven-day report ending on --end (default today) and emails it to the
tenant's recipients. --monthly builds the four-week overview instead and attaches
the active contact sheet. --dry-run prints the report instead of sending it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mode := "report"
		if reportDryRun {
			mode = "job"
		}
		env, err := initEnv(ctx, mode)
		if err != nil {
			return err
		}
		defer env.Close()

		var end time.Time
		if reportEnd != "" {
			end, err = time.Parse(time.DateOnly, reportEnd)
			if err != nil {
				return eris.Wrapf(err, "parse --end %q", reportEnd)
			}
		}

		t, err := env.activeTenant(ctx, reportTenant)
		if err != nil {
			return err
		}
		svc, err := env.reportService(!reportDryRun)
		if err != nil {
			return err
		}

		if reportMonthly {
			return runMonthly(cmd, svc, t, end)
		}

		var d *report.Delivery
		if reportDryRun {
			d, err = svc.Build(ctx, t, end)
		} else {
			d, err = svc.RunWeekly(ctx, t, end)
		}
		if err != nil {
			return err
		}

		if reportHTML != "" {
			if err := os.WriteFile(reportHTML, []byte(d.Rendered.HTML), 0o644); err != nil {
				return eris.Wrapf(err, "write %s", reportHTML)
			}
			zap.L().Info("report html written", zap.String("path", reportHTML))
		}
		if reportDryRun {
			fmt.Fprintln(cmd.OutOrStdout(), d.Rendered.Subject)
			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprintln(cmd.OutOrStdout(), d.Rendered.Text)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: sent=%t recipients=%d\n", d.Weekly.Label, d.Sent, len(d.Recipients))
		return nil
	},
}

func runMonthly(cmd *cobra.Command, svc *report.Service, t *model.Tenant, end time.Time) error {
	d, err := svc.RunMonthly(cmd.Context(), t, end, report.MonthlyOptions{Test: reportTest, Intro: reportIntro})
	if err != nil {
		return err
	}
	if reportHTML != "" {
		if err := os.WriteFile(reportHTML, []byte(d.Rendered.HTML), 0o644); err != nil {
			return eris.Wrapf(err, "write %s", reportHTML)
		}
	}
	if reportCSV != "" && len(d.Rendered.Attachments) > 0 {
		if err := os.WriteFile(reportCSV, d.Rendered.Attachments[0].Data, 0o644); err != nil {
			return eris.Wrapf(err, "write %s", reportCSV)
		}
		zap.L().Info("contact sheet written", zap.String("path", reportCSV), zap.Int("contacts", len(d.Monthly.Contacts)))
	}
	if reportDryRun {
		fmt.Fprintln(cmd.OutOrStdout(), d.Rendered.Subject)
		fmt.Fprintln(cmd.OutOrStdout())
		fmt.Fprintln(cmd.OutOrStdout(), d.Rendered.Text)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: sent=%t recipients=%d contacts=%d\n", d.Monthly.Label, d.Sent, len(d.Recipients), len(d.Monthly.Contacts))
	return nil
}

func init() {
	reportCmd.Flags().StringVar(&reportTenant, "tenant", "", "tenant slug (default server.default_tenant)")
	reportCmd.Flags().StringVar(&reportEnd, "end", "", "last day of the report week (YYYY-MM-DD)")
	reportCmd.Flags().BoolVar(&reportDryRun, "dry-run", false, "print the report instead of sending it")
	reportCmd.Flags().StringVar(&reportHTML, "html", "", "also write the rendered HTML to this path")
	reportCmd.Flags().BoolVar(&reportMonthly, "monthly", false, "build the four-week overview instead of the weekly report")
	reportCmd.Flags().BoolVar(&reportTest, "test", false, "monthly only: mail report.test_recipients instead of the tenant")
	reportCmd.Flags().BoolVar(&reportIntro, "intro", false, "monthly only: add the explanatory intro paragraph")
	reportCmd.Flags().StringVar(&reportCSV, "csv", "", "monthly only: also write the contact sheet to this path")
	rootCmd.AddCommand(reportCmd)
}
