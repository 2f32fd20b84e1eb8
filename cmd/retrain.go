package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"pixelwatch/internal/engine"
)

var retrainCmd = &cobra.Command{
	Use:   "retrain",
	Short: "Fit a new classifier from all feedback",
	Long: `Fit the learned classifier on all recorded feedback and activate it.

With too few samples, or feedback of only one kind, nothing changes and the
reason is printed. With --if-due the retrain only runs when enough feedback has
arrived since the active model was fitted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ifDue, err := cmd.Flags().GetBool("if-due")
		if err != nil {
			return err
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := commandContext(cmd)
		if ifDue {
			res, ran, err := a.Engine.RetrainIfDue(ctx)
			if err != nil {
				return err
			}
			if !ran {
				fmt.Fprintln(cmd.OutOrStdout(), "Retrain not due yet.")
				return nil
			}
			printRetrain(cmd, res)
			return nil
		}

		res, err := a.Engine.Retrain(ctx)
		if err != nil {
			return err
		}
		printRetrain(cmd, res)
		return nil
	},
}

func init() {
	retrainCmd.Flags().Bool("if-due", false, "Only retrain when enough new feedback has arrived")
}

func printRetrain(cmd *cobra.Command, res engine.RetrainResult) {
	if !res.Trained {
		fmt.Fprintf(cmd.OutOrStdout(), "Retrain skipped: %s (%d samples).\n", res.Reason, res.SampleCount)
		return
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Trained model v%d on %d samples (%d positive, %d negative), training accuracy %.2f.\n",
		res.ModelVersion, res.SampleCount, res.Positives, res.Negatives, res.TrainingAccuracy)
}
