package enrich

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// urlPattern matches bare http(s) URLs in plain text. Trailing sentence
// punctuation is trimmed after the match.
var urlPattern = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

// ScanURLs extracts the unique URLs found in a post's content, preserving
// first-seen order. HTML content contributes anchor hrefs via goquery;
// plain text contributes regex matches. Both paths run because feed
// content is frequently a mix.
func ScanURLs(content string) []string {
	if content == "" {
		return nil
	}

	var urls []string
	seen := make(map[string]bool)
	add := func(u string) {
		u = strings.TrimRight(u, ".,;:!?")
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		urls = append(urls, u)
	}

	if strings.Contains(content, "<") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(content)); err == nil {
			doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
				href, _ := sel.Attr("href")
				if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
					add(href)
				}
			})
			// Scan the rendered text too; feeds often paste bare links.
			for _, m := range urlPattern.FindAllString(doc.Text(), -1) {
				add(m)
			}
			return urls
		}
	}

	for _, m := range urlPattern.FindAllString(content, -1) {
		add(m)
	}
	return urls
}
