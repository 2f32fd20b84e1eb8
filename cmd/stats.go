package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pixelwatch/internal/detect"
	"pixelwatch/internal/storage/sqlite"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show model status, detection counts and feedback quality",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, err := cmd.Flags().GetInt("days")
		if err != nil {
			return err
		}
		if days < 1 {
			return fmt.Errorf("--days must be >= 1")
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := commandContext(cmd)
		since := time.Now().UTC().AddDate(0, 0, -days)
		st, err := a.Engine.Status(ctx)
		if err != nil {
			return err
		}
		ds, err := sqlite.GetDetectionStats(ctx, a.Store.DB(), since)
		if err != nil {
			return fmt.Errorf("detection stats: %w", err)
		}
		fm, err := sqlite.GetFeedbackMetrics(ctx, a.Store.DB(), since)
		if err != nil {
			return fmt.Errorf("feedback metrics: %w", err)
		}
		patterns, err := a.Engine.AnalyzePatterns(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Model")
		if st.ModelTrained {
			fmt.Fprintf(out, "  version v%d, %d samples, training accuracy %.2f, trained %s\n",
				st.ModelVersion, st.SampleCount, st.TrainingAccuracy, st.TrainedAt.Format("2006-01-02 15:04"))
		} else {
			fmt.Fprintf(out, "  untrained (needs %d samples of both kinds)\n", st.MinSamples)
		}
		fmt.Fprintf(out, "  weights rule=%.2f ml=%.2f, alert threshold %.2f\n", st.RuleWeight, st.MLWeight, st.AlertThreshold)
		fmt.Fprintf(out, "  feedback %d total, %d since last fit (retrain every %d)\n", st.FeedbackCount, st.PendingFeedback, st.RetrainEvery)

		fmt.Fprintf(out, "\nDetections (last %d days)\n", days)
		fmt.Fprintf(out, "  tickets %d (%d evaluations), matched %d, excluded %d\n", ds.Total, ds.Evaluations, ds.Matches, ds.Excluded)
		fmt.Fprintf(out, "  tiers high=%d medium=%d low=%d, alerts immediate=%d digest=%d\n", ds.TierHigh, ds.TierMedium, ds.TierLow, ds.Immediate, ds.Digest)

		fmt.Fprintf(out, "\nFeedback (last %d days)\n", days)
		fmt.Fprintf(out, "  TP=%d FP=%d FN=%d TN=%d\n", fm.TruePositives, fm.FalsePositives, fm.FalseNegatives, fm.TrueNegatives)
		fmt.Fprintf(out, "  precision %.2f, recall %.2f, F1 %.2f\n", fm.Precision(), fm.Recall(), fm.F1())

		if patterns.FalsePositives > 0 || patterns.FalseNegatives > 0 {
			fmt.Fprintln(out, "\nMisclassification patterns")
			fmt.Fprintf(out, "  false-positive words: %s\n", wordList(patterns.CommonFPWords))
			fmt.Fprintf(out, "  false-negative words: %s\n", wordList(patterns.CommonFNWords))
			if len(patterns.SuggestedExclusions) > 0 {
				fmt.Fprintf(out, "  candidate exclusions: %s\n", strings.Join(patterns.SuggestedExclusions, ", "))
			}
			if len(patterns.SuggestedKeywords) > 0 {
				fmt.Fprintf(out, "  candidate keywords: %s\n", strings.Join(patterns.SuggestedKeywords, ", "))
			}
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().Int("days", 30, "Window for detection and feedback counts")
}

func wordList(words []detect.WordCount) string {
	if len(words) == 0 {
		return "-"
	}
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = fmt.Sprintf("%s(%d)", w.Word, w.Count)
	}
	return strings.Join(parts, ", ")
}
