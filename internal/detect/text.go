package detect

import (
	"strings"
	"unicode"
)

// tokenize lowercases s and splits it on anything that is not a letter or digit.
func tokenize(s string) []string {
	s = strings.ToLower(s)
	var tokens []string
	var cur strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur.WriteRune(r)
		} else {
			if cur.Len() > 0 {
				tokens = append(tokens, cur.String())
				cur.Reset()
			}
		}
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

func combineText(summary, description string) string {
	return strings.ToLower(strings.TrimSpace(summary + " " + description))
}

// ticketText is the lowercased summary+description with its token stream.
// Phrase matching works on token sequences, so "pixel" never matches inside
// "pixelated" and "acr" never matches inside "across".
type ticketText struct {
	raw    string
	tokens []string
	set    map[string]bool
}

func newTicketText(summary, description string) ticketText {
	raw := combineText(summary, description)
	tokens := tokenize(raw)
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return ticketText{raw: raw, tokens: tokens, set: set}
}

func (t ticketText) has(word string) bool {
	return t.set[word]
}

func (t ticketText) hasAny(words ...string) bool {
	for _, w := range words {
		if t.set[w] {
			return true
		}
	}
	return false
}

func (t ticketText) countAny(words ...string) int {
	n := 0
	for _, w := range words {
		if t.set[w] {
			n++
		}
	}
	return n
}

func (t ticketText) hasPrefix(prefix string) bool {
	for _, tok := range t.tokens {
		if strings.HasPrefix(tok, prefix) {
			return true
		}
	}
	return false
}

// phrase is a pre-tokenized rule phrase.
type phrase struct {
	text   string
	tokens []string
}

func newPhrase(s string) phrase {
	return phrase{text: strings.ToLower(strings.TrimSpace(s)), tokens: tokenize(s)}
}

func newPhrases(list []string) []phrase {
	out := make([]phrase, 0, len(list))
	for _, s := range list {
		p := newPhrase(s)
		if len(p.tokens) == 0 {
			continue
		}
		out = append(out, p)
	}
	return out
}

// containsPhrase reports whether the phrase tokens appear consecutively in
// the text. Each token also matches its plural, so "universal tag" matches
// "universal tags".
func (t ticketText) containsPhrase(p phrase) bool {
	n := len(p.tokens)
	if n == 0 || n > len(t.tokens) {
		return false
	}
	if n == 1 {
		w := p.tokens[0]
		return t.set[w] || t.set[plural(w)]
	}
	for i := 0; i+n <= len(t.tokens); i++ {
		match := true
		for j := 0; j < n; j++ {
			if !tokenMatches(t.tokens[i+j], p.tokens[j]) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func tokenMatches(tok, want string) bool {
	return tok == want || tok == plural(want)
}

func plural(w string) string {
	if strings.HasSuffix(w, "s") || strings.HasSuffix(w, "x") || strings.HasSuffix(w, "ch") || strings.HasSuffix(w, "sh") {
		return w + "es"
	}
	return w + "s"
}

func (t ticketText) firstPhrase(list []phrase) (phrase, bool) {
	for _, p := range list {
		if t.containsPhrase(p) {
			return p, true
		}
	}
	return phrase{}, false
}

func (t ticketText) countPhrases(list []phrase) int {
	n := 0
	for _, p := range list {
		if t.containsPhrase(p) {
			n++
		}
	}
	return n
}
