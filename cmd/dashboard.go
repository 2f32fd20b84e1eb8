package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pixelwatch/internal/report"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Write the pixel ticket dashboard as markdown, HTML and an email draft",
	Long: `Build the dashboard for the last --days days: matched tickets grouped by issue
category with a derived priority, detection counts, feedback quality and recent
model training runs. Files are written to report_output_dir.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		days, err := cmd.Flags().GetInt("days")
		if err != nil {
			return err
		}
		if days < 1 {
			return fmt.Errorf("--days must be >= 1")
		}
		subject, err := cmd.Flags().GetString("subject")
		if err != nil {
			return err
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		to := time.Now().UTC()
		from := to.AddDate(0, 0, -days)
		d, err := report.LoadDashboard(commandContext(cmd), a.Store.DB(), from, to)
		if err != nil {
			return err
		}
		files, err := report.WriteDashboard(d, a.Config.ReportOutputDir, subject)
		if err != nil {
			return fmt.Errorf("write dashboard: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Dashboard with %d tickets written:\n  %s\n  %s\n  %s\n",
			len(d.Tickets), files.Markdown, files.HTML, files.Email)
		return nil
	},
}

func init() {
	dashboardCmd.Flags().Int("days", 7, "Number of days the dashboard covers")
	dashboardCmd.Flags().String("subject", "Pixel Dashboard", "Email subject prefix and file name prefix")
}
