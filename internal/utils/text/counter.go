// Package text provides small text-processing helpers shared by the LLM
// prompt builders.
package text

import "unicode/utf8"

// CountRunes counts the Unicode characters in the given text. Prompt
// budgets are expressed in characters, and multi-byte scripts and emoji
// would be overcounted by len().
func CountRunes(text string) int {
	return utf8.RuneCountInString(text)
}
