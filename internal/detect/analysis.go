package detect

import (
	"sort"

	"pixelwatch/internal/domain"
)

// WordCount is a word and how many times it appeared.
type WordCount struct {
	Word  string
	Count int
}

// PatternAnalysis summarises the text of misclassified tickets. Words seen
// at least twice among the top false-positive words become exclusion
// candidates; the same for false negatives become keyword candidates.
type PatternAnalysis struct {
	FalsePositives      int
	FalseNegatives      int
	CommonFPWords       []WordCount
	CommonFNWords       []WordCount
	SuggestedExclusions []string
	SuggestedKeywords   []string
}

const (
	analysisTopWords    = 10
	analysisSuggestTop  = 5
	analysisMinRepeated = 2
)

var analysisStopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true,
	"but": true, "by": true, "can": true, "for": true, "from": true, "has": true,
	"have": true, "in": true, "is": true, "it": true, "of": true, "on": true, "or": true,
	"our": true, "please": true, "the": true, "this": true, "to": true, "we": true,
	"with": true, "you": true,
}

func AnalyzeFeedback(records []domain.FeedbackRecord) PatternAnalysis {
	fp := make(map[string]int)
	fn := make(map[string]int)
	var out PatternAnalysis
	for _, rec := range records {
		var counts map[string]int
		switch rec.Label {
		case domain.LabelFalsePositive:
			out.FalsePositives++
			counts = fp
		case domain.LabelFalseNegative:
			out.FalseNegatives++
			counts = fn
		default:
			continue
		}
		for _, tok := range tokenize(rec.Summary + " " + rec.Description) {
			if len(tok) < 2 || analysisStopWords[tok] {
				continue
			}
			counts[tok]++
		}
	}

	out.CommonFPWords = topWords(fp, analysisTopWords)
	out.CommonFNWords = topWords(fn, analysisTopWords)
	out.SuggestedExclusions = repeated(out.CommonFPWords)
	out.SuggestedKeywords = repeated(out.CommonFNWords)
	return out
}

func topWords(counts map[string]int, k int) []WordCount {
	out := make([]WordCount, 0, len(counts))
	for w, c := range counts {
		out = append(out, WordCount{Word: w, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Word < out[j].Word
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func repeated(words []WordCount) []string {
	var out []string
	for i, wc := range words {
		if i >= analysisSuggestTop {
			break
		}
		if wc.Count >= analysisMinRepeated {
			out = append(out, wc.Word)
		}
	}
	return out
}
