package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pixelwatch/internal/detect"
	"pixelwatch/internal/integrations/llm"
)

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Ask the LLM for rule changes based on misclassified feedback",
	Long: `Send false-positive and false-negative feedback to the Anthropic API and print
suggested exclusion phrases and high-confidence phrases in rules-file YAML.

With --apply, suggested exclusion phrases are appended to rules_path. High-
confidence phrases are never applied automatically.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		apply, err := cmd.Flags().GetBool("apply")
		if err != nil {
			return err
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Config.RequireAnthropic(); err != nil {
			return err
		}
		if apply && strings.TrimSpace(a.Config.RulesPath) == "" {
			return fmt.Errorf("--apply needs rules_path to be set")
		}

		ctx := commandContext(cmd)
		records, err := a.Store.ListFeedback(ctx)
		if err != nil {
			return fmt.Errorf("list feedback: %w", err)
		}
		adv := llm.NewAdvisor(a.Config.AnthropicAPIKey, a.Config.LLMModel)
		s, usage, err := adv.SuggestRules(ctx, records, a.Rules)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if s.Empty() {
			fmt.Fprintf(out, "No rule changes suggested. %s\n", s.Rationale)
			return nil
		}
		data, err := s.YAML()
		if err != nil {
			return err
		}
		fmt.Fprint(out, string(data))
		if usage.TotalTokens() > 0 {
			fmt.Fprintf(out, "# tokens: %d\n", usage.TotalTokens())
		}

		if apply {
			for _, phrase := range s.ExclusionPhrases {
				added, err := detect.AppendExclusionPhrase(a.Config.RulesPath, phrase)
				if err != nil {
					return err
				}
				if added {
					fmt.Fprintf(out, "Added exclusion phrase %q to %s\n", phrase, a.Config.RulesPath)
				}
			}
		}
		return nil
	},
}

func init() {
	suggestCmd.Flags().Bool("apply", false, "Append suggested exclusion phrases to rules_path")
}
