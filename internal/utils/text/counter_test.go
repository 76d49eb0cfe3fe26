package text_test

import (
	"testing"

	"prodscout/internal/utils/text"
)

func TestCountRunes(t *testing.T) {
	cases := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"hello", 5},
		{"こんにちは", 5},
		{"hello世界", 7},
		{"Hi👋", 3},
	}
	for _, tc := range cases {
		if got := text.CountRunes(tc.input); got != tc.want {
			t.Errorf("CountRunes(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}
}
