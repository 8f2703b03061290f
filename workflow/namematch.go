package workflow

import (
	"regexp"
	"strings"
)

// NameMatchResult is the outcome of the name-match policy.
type NameMatchResult struct {
	Matches    bool
	Confidence int
	Reason     string
}

var nonLetters = regexp.MustCompile(`[^A-Za-z\s]`)

// normalizeName uppercases and strips everything but letters and spaces.
func normalizeName(name string) string {
	cleaned := nonLetters.ReplaceAllString(strings.ToUpper(name), "")
	return strings.Join(strings.Fields(cleaned), " ")
}

// MatchNamesLexical applies the deterministic part of the name-match policy:
// exact match after normalization, then >=80% token overlap. decided is false
// when neither rule fires and the semantic oracle must arbitrate.
func MatchNamesLexical(provided, extracted string) (result NameMatchResult, decided bool) {
	providedClean := normalizeName(provided)
	extractedClean := normalizeName(extracted)

	if providedClean == "" || extractedClean == "" {
		return NameMatchResult{Matches: false, Reason: "empty name"}, true
	}

	if providedClean == extractedClean {
		return NameMatchResult{Matches: true, Confidence: 100, Reason: "Exact match"}, true
	}

	providedWords := strings.Fields(providedClean)
	extractedWords := make(map[string]bool)
	for _, w := range strings.Fields(extractedClean) {
		extractedWords[w] = true
	}

	common := 0
	for _, w := range providedWords {
		if extractedWords[w] {
			common++
		}
	}

	// 80% of the provided tokens must appear on the card
	if common*10 >= len(providedWords)*8 {
		return NameMatchResult{Matches: true, Confidence: 85, Reason: "Substantial word match"}, true
	}

	return NameMatchResult{}, false
}
