// Package classifier turns a raw query into a ranked preference over
// backend capability tags.
//
// The heuristics are pure functions of the query text: no learning, no
// external calls. The same query under the same heuristic version always
// classifies identically. Weights and cues are a tuning surface; bump
// HeuristicVersion when they change so rankings don't silently drift.
package classifier

import (
	"regexp"
	"strings"

	"github.com/searchgate/searchgate/pkg/models"
)

// HeuristicVersion identifies the current classification heuristics.
const HeuristicVersion = 2

var (
	// mixedCase matches an identifier-like token such as parseToken or
	// HTTPServer embedded in a word.
	mixedCase = regexp.MustCompile(`\b[a-z]+[A-Z]\w*|\b[A-Z][a-z]+[A-Z]\w*`)

	// snakeCase matches underscore-joined symbol names such as
	// handle_call or MAX_RETRIES.
	snakeCase = regexp.MustCompile(`\b\w+_\w+\b`)

	// patternSyntax matches glob/regex-ish structural markers.
	patternSyntax = regexp.MustCompile(`[*^$\[\]\\|]|\.\w+\(`)
)

// Question openers that signal a behavioral or locational question.
var questionWords = []string{"where", "how", "why", "what", "which", "who", "when"}

// Cross-reference cues: the query asks for usages of something rather
// than the thing itself.
var xrefCues = []string{"callers of", "calls to", "references to", "usages of", "used by", "who calls"}

// Classify ranks capability tags for a query. priorContext is the
// preceding conversational exchange, consulted only when the query alone
// is ambiguous.
func Classify(query, priorContext string) []string {
	q := strings.TrimSpace(query)
	lower := strings.ToLower(q)

	if hasXrefCue(lower) {
		return []string{models.CapabilityXref, models.CapabilityExact, models.CapabilitySemantic}
	}

	exact := []string{models.CapabilityExact, models.CapabilitySemantic}
	semantic := []string{models.CapabilitySemantic, models.CapabilityExact}

	// Identifier-like tokens or structural markers dominate: the user is
	// pointing at a concrete symbol or pattern.
	if hasIdentifier(q) || hasStructuralMarker(q) {
		return exact
	}

	// Question phrasing without identifiers reads as a behavioral or
	// locational question.
	if isQuestionPhrased(lower) {
		return semantic
	}

	// Ambiguous. A question-phrased prior exchange suggests the user is
	// still exploring behavior; otherwise break the tie toward the
	// cheaper deterministic backend.
	if priorContext != "" && isQuestionPhrased(strings.ToLower(strings.TrimSpace(priorContext))) {
		return semantic
	}
	return exact
}

func hasIdentifier(q string) bool {
	return mixedCase.MatchString(q) || snakeCase.MatchString(q)
}

func hasStructuralMarker(q string) bool {
	// Single quotes are skipped: contractions ("what's") would misfire.
	if strings.Count(q, `"`) >= 2 || strings.Count(q, "`") >= 2 {
		return true
	}
	return patternSyntax.MatchString(q)
}

func isQuestionPhrased(lower string) bool {
	if strings.HasSuffix(lower, "?") {
		return true
	}
	first, _, _ := strings.Cut(lower, " ")
	for _, w := range questionWords {
		if first == w {
			return true
		}
	}
	return strings.Contains(lower, "what handles") || strings.Contains(lower, "where is") || strings.Contains(lower, "where does")
}

func hasXrefCue(lower string) bool {
	for _, cue := range xrefCues {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	return false
}
