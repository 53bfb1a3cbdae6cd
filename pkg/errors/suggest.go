package errors

import (
	"math"
	"strings"

	"github.com/agnivade/levenshtein"
)

// MaxSuggestDistance is the largest edit distance still offered as a suggestion.
const MaxSuggestDistance = 4

// Closest returns the candidate nearest to input by Levenshtein distance,
// or "" when none is within MaxSuggestDistance.
func Closest(input string, candidates []string) string {
	input = strings.ToLower(input)
	minDist := math.MaxInt
	var suggestion string
	for _, c := range candidates {
		dist := levenshtein.ComputeDistance(input, strings.ToLower(c))
		if dist == 0 {
			return c
		}
		if dist < minDist {
			minDist = dist
			suggestion = c
		}
	}
	if minDist <= MaxSuggestDistance {
		return suggestion
	}
	return ""
}

// Suggest attaches a "did you mean" hint to err when a close candidate exists.
func Suggest(err error, input string, candidates []string) error {
	if s := Closest(input, candidates); s != "" {
		return WithSuggestion(err, "did you mean "+s+"?")
	}
	return err
}
