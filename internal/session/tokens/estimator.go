// Package tokens estimates the size of conversation text without a real
// tokenizer. The estimate only needs to be deterministic and monotonic.
package tokens

import (
	"strings"
	"unicode/utf8"
)

// wordWeight is the token cost of one non-CJK whitespace-separated segment.
const wordWeight = 1.3

// Estimate returns the approximate token count of text. Segments holding a
// CJK ideograph count one token per character; every other segment counts
// 1.3, with the word total truncated toward zero.
func Estimate(text string) int {
	if text == "" {
		return 0
	}

	cjk := 0
	words := 0
	for _, seg := range strings.Fields(text) {
		if hasIdeograph(seg) {
			cjk += utf8.RuneCountInString(seg)
			continue
		}
		words++
	}
	return cjk + int(float64(words)*wordWeight)
}

// Total sums Estimate over a batch of texts.
func Total(texts ...string) int {
	n := 0
	for _, t := range texts {
		n += Estimate(t)
	}
	return n
}

func hasIdeograph(s string) bool {
	for _, r := range s {
		if r >= 0x4E00 && r <= 0x9FA5 {
			return true
		}
	}
	return false
}
