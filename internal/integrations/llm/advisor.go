package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"gopkg.in/yaml.v3"

	"pixelwatch/internal/detect"
	"pixelwatch/internal/domain"
	"pixelwatch/internal/httpx"
)

const DefaultModel = "claude-sonnet-4-5-20250929"

const (
	maxSuggestions     = 5
	maxExamplesPerKind = 8
	exampleTextLimit   = 200
)

type Usage struct {
	InputTokens              int64
	OutputTokens             int64
	CacheCreationInputTokens int64
	CacheReadInputTokens     int64
}

func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

// RuleSuggestion is the advisor's proposed change to the rule set. It is
// never applied automatically.
type RuleSuggestion struct {
	ExclusionPhrases      []string `json:"exclusion_phrases" yaml:"exclusion_phrases,omitempty"`
	HighConfidencePhrases []string `json:"high_confidence_phrases" yaml:"high_confidence_phrases,omitempty"`
	Rationale             string   `json:"rationale" yaml:"rationale,omitempty"`
}

func (s RuleSuggestion) Empty() bool {
	return len(s.ExclusionPhrases) == 0 && len(s.HighConfidencePhrases) == 0
}

// YAML renders the suggestion in the rules file layout so it can be pasted
// into rules_path.
func (s RuleSuggestion) YAML() ([]byte, error) {
	return yaml.Marshal(s)
}

type Advisor struct {
	client anthropic.Client
	model  string
}

// NewAdvisor builds an Anthropic-backed advisor. Extra request options are
// appended after the defaults, so tests can point it at a fake server.
func NewAdvisor(apiKey, model string, opts ...option.RequestOption) *Advisor {
	if model == "" {
		model = DefaultModel
	}
	all := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpx.Client()),
	}
	all = append(all, opts...)
	return &Advisor{client: anthropic.NewClient(all...), model: model}
}

// SuggestRules asks the model for exclusion and high-confidence phrases that
// would fix the misclassifications in records. Phrases already in current
// are dropped from the answer.
func (a *Advisor) SuggestRules(ctx context.Context, records []domain.FeedbackRecord, current detect.RuleSet) (RuleSuggestion, Usage, error) {
	analysis := detect.AnalyzeFeedback(records)
	if analysis.FalsePositives == 0 && analysis.FalseNegatives == 0 {
		return RuleSuggestion{Rationale: "no misclassified feedback yet"}, Usage{}, nil
	}

	systemPrompt := buildSystemPrompt(current)
	userPrompt := buildUserPrompt(analysis, records)

	log.Printf("llm suggest model=%s fp=%d fn=%d", a.model, analysis.FalsePositives, analysis.FalseNegatives)
	text, usage, err := a.call(ctx, systemPrompt, userPrompt)
	if err != nil {
		return RuleSuggestion{}, usage, err
	}
	s, err := parseSuggestion(text)
	if err != nil {
		return RuleSuggestion{}, usage, err
	}
	s.ExclusionPhrases = newPhrases(s.ExclusionPhrases, current.ExclusionPhrases)
	s.HighConfidencePhrases = newPhrases(s.HighConfidencePhrases, current.HighConfidencePhrases)
	return s, usage, nil
}

func (a *Advisor) call(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error) {
	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 4096,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		log.Printf("llm anthropic error: %v", err)
		return "", Usage{}, fmt.Errorf("anthropic API error: %w", err)
	}
	usage := Usage{
		InputTokens:              message.Usage.InputTokens,
		OutputTokens:             message.Usage.OutputTokens,
		CacheCreationInputTokens: message.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     message.Usage.CacheReadInputTokens,
	}
	for _, block := range message.Content {
		if block.Type == "text" {
			log.Printf("llm anthropic response size=%d tokens_in=%d tokens_out=%d", len(block.Text), usage.InputTokens, usage.OutputTokens)
			return block.Text, usage, nil
		}
	}
	return "", usage, fmt.Errorf("no text content in anthropic response")
}

func buildSystemPrompt(current detect.RuleSet) string {
	return fmt.Sprintf(`You maintain keyword rules that flag Jira support tickets about advertising pixels
(tracking pixels, conversion pixels, pixel firing and validation).

Current exclusion phrases (a hit means the ticket is NOT pixel related):
%s
Current high-confidence phrases (a hit means the ticket IS pixel related):
%s
From the misclassified tickets below, propose short lowercase phrases (1-3 words).
- Exclusion phrases should remove the false positives without hiding real pixel tickets.
- High-confidence phrases should catch the false negatives.
Only propose phrases supported by 2+ tickets. At most %d of each kind.

Respond with JSON only (no markdown):
{"exclusion_phrases": ["..."], "high_confidence_phrases": ["..."], "rationale": "..."}`,
		bulletList(current.ExclusionPhrases), bulletList(current.HighConfidencePhrases), maxSuggestions)
}

func buildUserPrompt(analysis detect.PatternAnalysis, records []domain.FeedbackRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "False positives: %d\nFalse negatives: %d\n", analysis.FalsePositives, analysis.FalseNegatives)
	if len(analysis.CommonFPWords) > 0 {
		b.WriteString("Frequent false-positive words: " + joinWordCounts(analysis.CommonFPWords) + "\n")
	}
	if len(analysis.CommonFNWords) > 0 {
		b.WriteString("Frequent false-negative words: " + joinWordCounts(analysis.CommonFNWords) + "\n")
	}
	writeExamples(&b, "False positives (flagged, not pixel related)", records, domain.LabelFalsePositive)
	writeExamples(&b, "False negatives (missed, pixel related)", records, domain.LabelFalseNegative)
	return b.String()
}

func writeExamples(b *strings.Builder, title string, records []domain.FeedbackRecord, label domain.Label) {
	var lines []string
	// Newest first.
	for i := len(records) - 1; i >= 0 && len(lines) < maxExamplesPerKind; i-- {
		rec := records[i]
		if rec.Label != label {
			continue
		}
		text := strings.TrimSpace(rec.Summary + " " + rec.Description)
		if len(text) > exampleTextLimit {
			text = text[:exampleTextLimit] + "..."
		}
		lines = append(lines, fmt.Sprintf("- %s: %q", rec.TicketID, text))
	}
	if len(lines) == 0 {
		return
	}
	b.WriteString("\n" + title + ":\n")
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n")
}

func parseSuggestion(text string) (RuleSuggestion, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var s RuleSuggestion
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		return RuleSuggestion{}, fmt.Errorf("parsing suggestion response: %w (response: %s)", err, text)
	}
	s.ExclusionPhrases = cleanPhrases(s.ExclusionPhrases)
	s.HighConfidencePhrases = cleanPhrases(s.HighConfidencePhrases)
	return s, nil
}

func cleanPhrases(in []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range in {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
		if len(out) == maxSuggestions {
			break
		}
	}
	return out
}

func newPhrases(suggested, existing []string) []string {
	have := make(map[string]bool, len(existing))
	for _, p := range existing {
		have[strings.ToLower(strings.TrimSpace(p))] = true
	}
	var out []string
	for _, p := range suggested {
		if !have[p] {
			out = append(out, p)
		}
	}
	return out
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return "(none)\n"
	}
	sorted := append([]string(nil), items...)
	sort.Strings(sorted)
	var b strings.Builder
	for _, it := range sorted {
		b.WriteString("- " + it + "\n")
	}
	return b.String()
}

func joinWordCounts(words []detect.WordCount) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = fmt.Sprintf("%s(%d)", w.Word, w.Count)
	}
	return strings.Join(parts, ", ")
}
