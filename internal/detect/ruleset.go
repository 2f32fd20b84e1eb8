package detect

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// RuleSet is the data behind the rule engine. DefaultRuleSet holds the
// built-in lists; a rules file may replace any of them.
type RuleSet struct {
	ExclusionPhrases      []string          `yaml:"exclusion_phrases"`
	ExclusionPatterns     []NamedPattern    `yaml:"exclusion_patterns"`
	HighConfidencePhrases []string          `yaml:"high_confidence_phrases"`
	PixelTokens           []string          `yaml:"pixel_tokens"`
	PixelContexts         []string          `yaml:"pixel_contexts"`
	CombinationRules      []CombinationRule `yaml:"combination_rules"`
}

// NamedPattern is a regular expression evaluated against the lowercased
// ticket text. Name is what shows up in matched patterns.
type NamedPattern struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

// CombinationRule is satisfied when every group has at least one phrase
// present in the ticket.
type CombinationRule struct {
	Name   string     `yaml:"name"`
	Groups [][]string `yaml:"groups"`
}

var (
	trackingWords    = []string{"tracking", "track", "tag", "tags", "javascript", "js"}
	implementWords   = []string{"implement", "implementing", "implementation", "install", "installing", "setup", "set up", "add", "adding", "place", "deploy", "configure"}
	javascriptWords  = []string{"javascript", "js"}
	codeWords        = []string{"code", "snippet", "script"}
	websiteWords     = []string{"website", "web", "site", "page"}
	integrationWords = []string{"integration", "integrate", "integrating"}
	conversionWords  = []string{"conversion", "conversions"}
)

func DefaultRuleSet() RuleSet {
	return RuleSet{
		ExclusionPhrases: []string{
			"acr",
			"delivery report",
			"monitoring alert",
			"o&o monitoring",
			"user sync",
			"sync pixel",
			"planning module",
			"linear ads",
		},
		ExclusionPatterns: []NamedPattern{
			{Name: "grant access", Pattern: `\bgrant\b(?:\s+\S+){0,3}?\s+access\b`},
			{Name: "access request", Pattern: `\baccess\s+request`},
		},
		HighConfidencePhrases: []string{
			"pixel validation",
			"pixel firing",
			"pixel not firing",
			"conversion pixel",
			"tracking pixel",
			"universal tag",
			"piggyback",
			"appending a pixel",
			"append pixel",
		},
		PixelTokens: []string{"pixel", "pixels"},
		PixelContexts: []string{
			"confirmation page",
			"confirmation",
			"website",
			"page",
			"conversion",
			"conversions",
			"firing",
			"tracking",
			"code",
			"tag",
			"implement",
			"implementation",
			"install",
			"setup",
			"validation",
			"not working",
			"troubleshoot",
			"troubleshooting",
			"piggyback",
		},
		CombinationRules: []CombinationRule{
			{Name: "tracking_action", Groups: [][]string{trackingWords, implementWords}},
			{Name: "javascript_code", Groups: [][]string{javascriptWords, codeWords}},
			{Name: "website_integration", Groups: [][]string{websiteWords, integrationWords}},
			{Name: "conversion_tracking", Groups: [][]string{conversionWords, {"tracking", "code", "tag", "validation"}}},
		},
	}
}

// LoadRuleSet reads a YAML rules file. Lists missing from the file keep
// their defaults.
func LoadRuleSet(path string) (RuleSet, error) {
	rs := DefaultRuleSet()
	if strings.TrimSpace(path) == "" {
		return rs, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return rs, fmt.Errorf("read rules: %w", err)
	}
	var file RuleSet
	if err := yaml.Unmarshal(data, &file); err != nil {
		return rs, fmt.Errorf("parse rules yaml: %w", err)
	}
	if len(file.ExclusionPhrases) > 0 {
		rs.ExclusionPhrases = file.ExclusionPhrases
	}
	if len(file.ExclusionPatterns) > 0 {
		rs.ExclusionPatterns = file.ExclusionPatterns
	}
	if len(file.HighConfidencePhrases) > 0 {
		rs.HighConfidencePhrases = file.HighConfidencePhrases
	}
	if len(file.PixelTokens) > 0 {
		rs.PixelTokens = file.PixelTokens
	}
	if len(file.PixelContexts) > 0 {
		rs.PixelContexts = file.PixelContexts
	}
	if len(file.CombinationRules) > 0 {
		rs.CombinationRules = file.CombinationRules
	}
	return rs, rs.Validate()
}

func (rs RuleSet) Validate() error {
	for _, p := range rs.ExclusionPatterns {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("exclusion pattern %q has no name", p.Pattern)
		}
		if _, err := regexp.Compile(p.Pattern); err != nil {
			return fmt.Errorf("exclusion pattern %q: %w", p.Name, err)
		}
	}
	for _, r := range rs.CombinationRules {
		if strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("combination rule without name")
		}
		if len(r.Groups) == 0 {
			return fmt.Errorf("combination rule %q has no groups", r.Name)
		}
		for i, g := range r.Groups {
			if len(g) == 0 {
				return fmt.Errorf("combination rule %q group %d is empty", r.Name, i)
			}
		}
	}
	if len(rs.PixelTokens) == 0 {
		return fmt.Errorf("pixel_tokens must not be empty")
	}
	return nil
}

// AppendExclusionPhrase adds phrase to the rules file at path, creating the
// file if needed. Phrases already present (case-insensitive) are skipped and
// reported as not added.
func AppendExclusionPhrase(path, newPhrase string) (bool, error) {
	newPhrase = strings.TrimSpace(newPhrase)
	if newPhrase == "" {
		return false, nil
	}

	var file RuleSet
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &file); err != nil {
			return false, fmt.Errorf("parse existing rules: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("read rules: %w", err)
	}
	if len(file.ExclusionPhrases) == 0 {
		file.ExclusionPhrases = DefaultRuleSet().ExclusionPhrases
	}

	normalized := strings.ToLower(newPhrase)
	for _, p := range file.ExclusionPhrases {
		if strings.ToLower(strings.TrimSpace(p)) == normalized {
			return false, nil
		}
	}
	file.ExclusionPhrases = append(file.ExclusionPhrases, newPhrase)
	return true, saveRuleSet(path, &file)
}

func saveRuleSet(path string, rs *RuleSet) error {
	data, err := yaml.Marshal(rs)
	if err != nil {
		return fmt.Errorf("marshal rules: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
