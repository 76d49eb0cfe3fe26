package write

import (
	"fmt"
	"strings"

	"prodscout/internal/domain/entity"
)

// RenderMarkdown renders a post in the canonical Markdown file shape.
func RenderMarkdown(post *entity.Post) string {
	var b strings.Builder

	event := post.Event
	if event == "" {
		event = post.Title
	}

	fmt.Fprintf(&b, "# %s\n\n", event)
	fmt.Fprintf(&b, "- **Date**: %s\n", post.Date)
	fmt.Fprintf(&b, "- **Category**: %s\n", post.Category)
	fmt.Fprintf(&b, "- **Domain**: %s\n", post.Domain)
	fmt.Fprintf(&b, "- **Quality**: %s (%d/5)\n", stars(post.QualityScore), post.QualityScore)
	fmt.Fprintf(&b, "- **Reason**: %s\n", post.QualityReason)
	fmt.Fprintf(&b, "- **Source_Type**: %s\n", post.SourceType)
	fmt.Fprintf(&b, "- **Source**: %s\n", post.SourceName)
	fmt.Fprintf(&b, "- **Link**: %s\n", post.Link)

	b.WriteString("\n## Key Info\n")
	b.WriteString(keyInfoLine(post.KeyInfo))
	b.WriteString("\n")

	b.WriteString("\n## Details\n")
	b.WriteString(post.Detail)
	b.WriteString("\n")

	return b.String()
}

// stars renders the quality score as filled and empty stars.
func stars(score int) string {
	if score < 0 {
		score = 0
	}
	if score > 5 {
		score = 5
	}
	return strings.Repeat("★", score) + strings.Repeat("☆", 5-score)
}

// keyInfoLine joins numbered key-info items with <br> on a single line.
func keyInfoLine(items []string) string {
	if len(items) == 0 {
		return ""
	}
	parts := make([]string, 0, len(items))
	for i, item := range items {
		parts = append(parts, fmt.Sprintf("%d. %s", i+1, item))
	}
	return strings.Join(parts, "<br>")
}
