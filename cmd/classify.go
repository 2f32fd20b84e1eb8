package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"pixelwatch/internal/detect"
	"pixelwatch/internal/domain"
)

var classifyCmd = &cobra.Command{
	Use:   "classify [summary...]",
	Short: "Score ticket text and explain the verdict",
	Long: `Score a ticket summary and description with the rules and the active model.

Nothing is stored unless --record is given together with --id; recording a
detection lets feedback be submitted for that ticket later.

Example:
  pixelwatch classify "Conversion pixel not firing" -d "checkout page, see ACR report"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		summary := strings.TrimSpace(strings.Join(args, " "))
		description, err := cmd.Flags().GetString("description")
		if err != nil {
			return err
		}
		id, err := cmd.Flags().GetString("id")
		if err != nil {
			return err
		}
		record, err := cmd.Flags().GetBool("record")
		if err != nil {
			return err
		}
		if summary == "" && strings.TrimSpace(description) == "" {
			return fmt.Errorf("summary or --description is required")
		}
		if record && strings.TrimSpace(id) == "" {
			return fmt.Errorf("--record needs --id")
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		ticket := domain.Ticket{ID: strings.TrimSpace(id), Summary: summary, Description: description}
		var res domain.DetectionResult
		if record {
			res, err = a.Engine.Evaluate(commandContext(cmd), ticket)
			if err != nil {
				return err
			}
		} else {
			res = a.Engine.Classify(ticket)
		}
		printResult(cmd.OutOrStdout(), res, a.Engine.SimilarTickets(ticket, 3))
		if record {
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded detection for %s.\n", ticket.ID)
		}
		return nil
	},
}

func init() {
	classifyCmd.Flags().StringP("description", "d", "", "Ticket description")
	classifyCmd.Flags().String("id", "", "Ticket key, e.g. PS-9074")
	classifyCmd.Flags().Bool("record", false, "Store the detection so feedback can be given")
}

func printResult(w io.Writer, res domain.DetectionResult, similar []detect.SimilarTicket) {
	verdict := "no match"
	if res.IsMatch {
		verdict = "MATCH"
	}
	if res.Excluded {
		verdict = "excluded"
	}
	fmt.Fprintf(w, "Verdict:        %s\n", verdict)
	fmt.Fprintf(w, "Tier:           %s\n", res.Tier)
	fmt.Fprintf(w, "Matched:        %s\n", res.Reason())
	model := "untrained"
	if res.MLTrained {
		model = fmt.Sprintf("model v%d", res.ModelVersion)
	}
	fmt.Fprintf(w, "ML probability: %.2f (%s)\n", res.MLProbability, model)
	fmt.Fprintf(w, "Hybrid score:   %.2f\n", res.HybridScore)
	fmt.Fprintf(w, "Alert level:    %s\n", res.AlertLevel)
	if len(similar) > 0 {
		fmt.Fprintln(w, "Similar labelled tickets:")
		for _, s := range similar {
			fmt.Fprintf(w, "  %s (%s, %.2f) %s\n", s.TicketID, s.Label, s.Score, s.Summary)
		}
	}
}
