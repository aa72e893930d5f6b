// Package utterance turns reasoning output into the single line Doc speaks.
package utterance

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Separator joins the advice and the follow-up question.
const Separator = " — "

const (
	// SimilarityThreshold is the Jaccard score at which a sentence counts as a repeat.
	SimilarityThreshold = 0.70

	// minContainedLen is the normalized follow-up length above which a
	// follow-up already contained in the advice is dropped outright.
	minContainedLen = 6
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {}, "if": {},
	"to": {}, "of": {}, "in": {}, "on": {}, "at": {}, "for": {}, "with": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {}, "it": {},
	"this": {}, "that": {}, "i": {}, "you": {}, "your": {}, "my": {}, "me": {},
	"we": {}, "do": {}, "does": {}, "did": {}, "have": {}, "has": {}, "had": {},
	"so": {}, "as": {}, "can": {}, "will": {}, "just": {}, "any": {}, "some": {},
}

// Combine merges the advice and an optional follow-up question into one
// utterance without near-duplicate sentences.
func Combine(speak, followUp string) string {
	speak = strings.TrimSpace(speak)
	followUp = strings.TrimSpace(followUp)

	if followUp == "" {
		return Dedup(speak)
	}
	nf := Normalize(followUp)
	if len(nf) > minContainedLen && strings.Contains(Normalize(speak), nf) {
		return Dedup(speak)
	}
	if speak == "" {
		return Dedup(followUp)
	}
	return Dedup(speak + Separator + followUp)
}

// Dedup removes sentences that repeat an earlier one, keeping first
// occurrences in order.
func Dedup(text string) string {
	type kept struct {
		norm   string
		tokens map[string]struct{}
	}

	var out []string
	var seen []kept
	for _, sentence := range splitSentences(text) {
		norm := Normalize(sentence)
		if norm == "" {
			continue
		}
		tokens := tokenSet(norm)

		repeat := false
		for _, k := range seen {
			if jaccard(tokens, k.tokens) >= SimilarityThreshold || containsWords(k.norm, norm) || containsWords(norm, k.norm) {
				repeat = true
				break
			}
		}
		if repeat {
			continue
		}
		seen = append(seen, kept{norm: norm, tokens: tokens})
		out = append(out, sentence)
	}
	return strings.Join(out, " ")
}

// Normalize lower-cases s and collapses every run of non-alphanumerics into
// a single space.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	gap := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if gap && b.Len() > 0 {
				b.WriteByte(' ')
			}
			gap = false
			b.WriteRune(r)
			continue
		}
		gap = true
	}
	return b.String()
}

// Truncate cuts text to limit characters and marks the cut with "...".
// A limit of zero or less disables truncation.
func Truncate(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return strings.TrimRightFunc(string(runes[:limit]), unicode.IsSpace) + "..."
}

// splitSentences cuts after terminal punctuation followed by whitespace.
func splitSentences(text string) []string {
	var parts []string
	runes := []rune(text)
	start := 0
	for i, r := range runes {
		if !isTerminal(r) {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if piece := strings.TrimSpace(string(runes[start : i+1])); piece != "" {
			parts = append(parts, piece)
		}
		start = i + 1
	}
	if piece := strings.TrimSpace(string(runes[start:])); piece != "" {
		parts = append(parts, piece)
	}
	return parts
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func tokenSet(norm string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(norm) {
		if _, stop := stopWords[w]; stop {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// containsWords reports whether needle appears in haystack on word boundaries.
func containsWords(haystack, needle string) bool {
	return strings.Contains(" "+haystack+" ", " "+needle+" ")
}
