package parser

import "regexp"

// bytesPerToken drives the cheap estimate used during packing.
const bytesPerToken = 4

// EstimateTokens is a linear-time heuristic: one token per four bytes,
// rounded up.
func EstimateTokens(text string) int {
	return (len(text) + bytesPerToken - 1) / bytesPerToken
}

// pretokenRe mirrors the split performed by byte-pair tokenizers before merges:
// words with an optional leading space, short digit runs, punctuation runs and
// whitespace.
var pretokenRe = regexp.MustCompile(` ?[\p{L}]+| ?[\p{N}]{1,3}| ?[^\s\p{L}\p{N}]+|\s+`)

// longWord is the length past which a single word is counted as several tokens.
const longWord = 8

// CountTokens computes the exact count reported for a final buffer. It is
// linear but far more expensive than EstimateTokens and is run once per
// resolution.
func CountTokens(text string) int {
	n := 0
	for _, m := range pretokenRe.FindAllStringIndex(text, -1) {
		size := m[1] - m[0]
		n++
		if size > longWord {
			n += (size - 1) / longWord
		}
	}
	return n
}
