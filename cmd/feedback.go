package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pixelwatch/internal/domain"
	"pixelwatch/internal/engine"
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback <ticket> <label>",
	Short: "Record whether a detection was right",
	Long: `Record feedback for a ticket that has been evaluated.

Labels: true_positive (tp), false_positive (fp), false_negative (fn),
true_negative (tn). Feedback accumulates; repeated feedback for a ticket adds
another training sample. A retrain runs when enough new feedback has arrived.

Example:
  pixelwatch feedback PS-9074 tp`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		label, err := domain.ParseLabel(args[1])
		if err != nil {
			return err
		}
		by, err := cmd.Flags().GetString("by")
		if err != nil {
			return err
		}
		if by == "" {
			by = os.Getenv("USER")
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := commandContext(cmd)
		rec, err := a.Engine.SubmitFeedback(ctx, engine.Feedback{TicketID: args[0], Label: label, RecordedBy: by})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s for %s (feedback #%d).\n", rec.Label, rec.TicketID, rec.ID)

		res, ran, err := a.Engine.RetrainIfDue(ctx)
		if err != nil {
			return err
		}
		if ran {
			printRetrain(cmd, res)
		}
		return nil
	},
}

func init() {
	feedbackCmd.Flags().String("by", "", "Who is giving the feedback (defaults to $USER)")
}
