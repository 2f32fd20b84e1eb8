package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	slackbot "pixelwatch/internal/integrations/slack"
	"pixelwatch/internal/monitor"
)

// monitorCmd runs the long-lived service.
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Poll Jira on a schedule, post alerts and digests, and record Slack feedback",
	Long: `Run the pixel ticket monitor as a service.

The poll schedule (poll_schedule) evaluates tickets created within the lookback
window, posts immediate alerts and queues digest alerts. The digest schedule
(digest_schedule) posts queued alerts. Feedback buttons on alerts and the
/pixel-feedback slash command are handled over Slack Socket Mode.

Stop with Ctrl-C.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return a.RunService(ctx)
	},
}

// checkCmd runs one poll cycle now.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one poll cycle immediately",
	Long: `Evaluate tickets created within the lookback window once and print a summary.

Alerts are posted to Slack when it is configured, unless --no-slack is given.
Immediate alerts that are not posted wait for the next digest.
With --digest the pending digest is posted afterwards.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		noSlack, err := cmd.Flags().GetBool("no-slack")
		if err != nil {
			return err
		}
		sendDigest, err := cmd.Flags().GetBool("digest")
		if err != nil {
			return err
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		var notifier monitor.Notifier
		if !noSlack && a.Config.SlackConfigured() {
			api := slackbot.NewAPI(a.Config.SlackBotToken, a.Config.SlackAppToken)
			notifier = slackbot.NewNotifier(api, a.Config.SlackAlertChannelID)
		}
		if sendDigest && notifier == nil {
			return fmt.Errorf("--digest needs Slack to be configured")
		}

		mon, err := a.Monitor(notifier)
		if err != nil {
			return err
		}
		ctx := commandContext(cmd)
		res, err := mon.RunCycle(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), monitor.FormatCycleSummary(res))

		if sendDigest {
			n, err := mon.RunDigest(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Digest posted with %d alerts.\n", n)
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().Bool("no-slack", false, "Record alerts without posting them to Slack")
	checkCmd.Flags().Bool("digest", false, "Post the pending digest after the cycle")
}
