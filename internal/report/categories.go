package report

import (
	"regexp"
	"strings"

	"pixelwatch/internal/domain"
)

// Category groups matched tickets by the kind of pixel problem they describe.
type Category string

const (
	CategoryDataDiscrepancy Category = "data_discrepancy"
	CategoryImplementation  Category = "implementation"
	CategoryValidation      Category = "validation"
	CategoryTroubleshooting Category = "troubleshooting"
	CategoryConversion      Category = "conversion_issues"
	CategoryGTM             Category = "gtm_related"
	CategoryCrossDomain     Category = "cross_domain"
	CategoryReporting       Category = "reporting"
)

var categoryTitles = map[Category]string{
	CategoryDataDiscrepancy: "Data discrepancy",
	CategoryImplementation:  "Implementation",
	CategoryValidation:      "Validation",
	CategoryTroubleshooting: "Troubleshooting",
	CategoryConversion:      "Conversion issues",
	CategoryGTM:             "Tag manager",
	CategoryCrossDomain:     "Cross-domain",
	CategoryReporting:       "Reporting",
}

func (c Category) Title() string {
	if t, ok := categoryTitles[c]; ok {
		return t
	}
	return string(c)
}

type categoryRule struct {
	category Category
	keywords []*regexp.Regexp
}

// Order matters: on equal keyword counts the earlier category wins.
var categoryRules = []categoryRule{
	{CategoryDataDiscrepancy, keywordPatterns("similar data between", "data mismatch", "discrepancy", "1p and 3p", "user count", "not seeing similar", "confirmation page data")},
	{CategoryImplementation, keywordPatterns("pixel not firing", "implementation", "setup", "install pixel", "place pixel", "add pixel", "deploy pixel")},
	{CategoryValidation, keywordPatterns("validation", "validate", "test pixel", "verify pixel", "check pixel", "pixel testing")},
	{CategoryTroubleshooting, keywordPatterns("troubleshoot", "debug", "investigate", "pixel issue", "not working", "broken pixel", "0 conversions")},
	{CategoryConversion, keywordPatterns("conversion", "conversion tracking", "purchase tracking", "conversion pixel", "revenue tracking")},
	{CategoryGTM, keywordPatterns("gtm", "google tag manager", "tag manager", "data layer", "gtm container", "tag configuration")},
	{CategoryCrossDomain, keywordPatterns("cross domain", "cross-domain", "subdomain", "multiple domains", "domain tracking")},
	{CategoryReporting, keywordPatterns("reporting", "analytics", "dashboard", "report data", "metrics", "performance data")},
}

// Categorize picks the category with the most keyword hits. Tickets with no
// hits are implementation work.
func Categorize(summary, description string) Category {
	text := strings.ToLower(summary + " " + description)
	best := CategoryImplementation
	bestHits := 0
	for _, rule := range categoryRules {
		hits := countHits(text, rule.keywords)
		if hits > bestHits {
			best, bestHits = rule.category, hits
		}
	}
	return best
}

// PixelPriority is the dashboard's urgency rating, derived from ticket text
// and the Jira priority.
type PixelPriority string

const (
	PixelPriorityHigh   PixelPriority = "high"
	PixelPriorityMedium PixelPriority = "medium"
	PixelPriorityLow    PixelPriority = "low"
)

var (
	priorityHighWords = keywordPatterns("critical", "urgent", "high priority", "revenue impact", "client escalation")
	priorityLowWords  = keywordPatterns("low", "nice to have", "future", "enhancement")
)

// DerivePriority rates a ticket high when its text sounds urgent or Jira
// says High/Critical, low when it sounds deferrable or Jira says Low, and
// medium otherwise.
func DerivePriority(summary, description string, jiraPriority domain.Priority) PixelPriority {
	text := strings.ToLower(summary + " " + description)
	switch {
	case countHits(text, priorityHighWords) > 0 || jiraPriority == domain.PriorityHigh || jiraPriority == domain.PriorityCritical:
		return PixelPriorityHigh
	case countHits(text, priorityLowWords) > 0 || jiraPriority == domain.PriorityLow:
		return PixelPriorityLow
	}
	return PixelPriorityMedium
}

func keywordPatterns(words ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(words))
	for i, w := range words {
		out[i] = regexp.MustCompile(`(^|[^a-z0-9])` + regexp.QuoteMeta(w) + `($|[^a-z0-9])`)
	}
	return out
}

func countHits(text string, patterns []*regexp.Regexp) int {
	n := 0
	for _, re := range patterns {
		if re.MatchString(text) {
			n++
		}
	}
	return n
}
