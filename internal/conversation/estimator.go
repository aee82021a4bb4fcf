package conversation

import "unicode/utf8"

// charsPerToken is the calibration factor for the length-based token
// heuristic (~4 characters per token for current model tokenizers).
const charsPerToken = 4

// EstimateTokens returns a deterministic token estimate for s. The estimate
// is monotonic in rune count so condensation decisions are reproducible, and
// non-empty text never estimates zero.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	runes := utf8.RuneCountInString(s)
	return (runes + charsPerToken - 1) / charsPerToken
}

// lineCost is the budget charge for including line in a rendered block,
// accounting for the joining newline. Charging per line keeps the sum an
// upper bound on the final block's estimate.
func lineCost(line string) int {
	return EstimateTokens(line) + 1
}
