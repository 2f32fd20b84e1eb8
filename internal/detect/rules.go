package detect

import (
	"regexp"

	"pixelwatch/internal/domain"
)

// RuleVerdict is the rule engine's output for one ticket.
type RuleVerdict struct {
	Excluded bool
	Tier     domain.Tier
	Matched  []string
}

type compiledPattern struct {
	name string
	re   *regexp.Regexp
}

type compiledCombination struct {
	name   string
	groups [][]phrase
}

// RuleEngine evaluates a RuleSet. It holds no mutable state after
// construction and is safe for concurrent use.
type RuleEngine struct {
	exclusions        []phrase
	exclusionPatterns []compiledPattern
	highConfidence    []phrase
	pixelTokens       []string
	pixelContexts     []phrase
	combinations      []compiledCombination
}

func NewRuleEngine(rs RuleSet) (*RuleEngine, error) {
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	e := &RuleEngine{
		exclusions:     newPhrases(rs.ExclusionPhrases),
		highConfidence: newPhrases(rs.HighConfidencePhrases),
		pixelContexts:  newPhrases(rs.PixelContexts),
	}
	for _, p := range rs.ExclusionPatterns {
		e.exclusionPatterns = append(e.exclusionPatterns, compiledPattern{
			name: p.Name,
			re:   regexp.MustCompile(p.Pattern),
		})
	}
	for _, tok := range rs.PixelTokens {
		for _, t := range tokenize(tok) {
			e.pixelTokens = append(e.pixelTokens, t)
		}
	}
	for _, r := range rs.CombinationRules {
		c := compiledCombination{name: r.Name}
		for _, g := range r.Groups {
			c.groups = append(c.groups, newPhrases(g))
		}
		e.combinations = append(e.combinations, c)
	}
	return e, nil
}

// Evaluate applies, in order: exclusions, high-confidence phrases, pixel with
// context, combination rules, and finally a bare pixel mention.
func (e *RuleEngine) Evaluate(summary, description string) RuleVerdict {
	text := newTicketText(summary, description)
	if len(text.tokens) == 0 {
		return RuleVerdict{Tier: domain.TierNone}
	}

	if p, ok := text.firstPhrase(e.exclusions); ok {
		return RuleVerdict{Excluded: true, Tier: domain.TierNone, Matched: []string{"excluded:" + p.text}}
	}
	for _, p := range e.exclusionPatterns {
		if p.re.MatchString(text.raw) {
			return RuleVerdict{Excluded: true, Tier: domain.TierNone, Matched: []string{"excluded:" + p.name}}
		}
	}

	var matched []string
	for _, p := range e.highConfidence {
		if text.containsPhrase(p) {
			matched = append(matched, "high:"+p.text)
		}
	}
	if len(matched) > 0 {
		return RuleVerdict{Tier: domain.TierHigh, Matched: matched}
	}

	hasPixel := text.hasAny(e.pixelTokens...)
	if hasPixel {
		for _, p := range e.pixelContexts {
			if text.containsPhrase(p) {
				matched = append(matched, "pixel_context:"+p.text)
			}
		}
		if len(matched) > 0 {
			return RuleVerdict{Tier: domain.TierHigh, Matched: matched}
		}
	}

	for _, c := range e.combinations {
		if c.satisfied(text) {
			matched = append(matched, "combo:"+c.name)
		}
	}
	if len(matched) > 0 {
		return RuleVerdict{Tier: domain.TierMedium, Matched: matched}
	}

	if hasPixel {
		return RuleVerdict{Tier: domain.TierLow, Matched: []string{"pixel_mention"}}
	}
	return RuleVerdict{Tier: domain.TierNone}
}

func (c compiledCombination) satisfied(text ticketText) bool {
	for _, g := range c.groups {
		if _, ok := text.firstPhrase(g); !ok {
			return false
		}
	}
	return len(c.groups) > 0
}
