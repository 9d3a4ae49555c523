// Package newsletter prepares raw newsletter HTML for extraction.
package newsletter

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// maxTextLen caps the cleaned body sent to the extraction service.
const maxTextLen = 24_000

// CleanHTML strips a newsletter issue down to readable text: scripts,
// styles, tracking pixels, and boilerplate chrome are removed, block
// elements become line breaks, and whitespace is collapsed.
func CleanHTML(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse newsletter html: %w", err)
	}

	doc.Find("script, style, noscript, head, iframe, svg").Remove()
	// Substack footers and share chrome carry no mention content.
	doc.Find("[class*='footer'], [class*='subscribe'], [class*='share'], [class*='social']").Remove()

	var b strings.Builder
	doc.Find("h1, h2, h3, h4, p, li, blockquote, td").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text == "" {
			return
		}
		b.WriteString(text)
		b.WriteByte('\n')
	})

	text := collapseWhitespace(b.String())
	if text == "" {
		// Fall back to the whole-document text for plain or unusual markup.
		text = collapseWhitespace(doc.Text())
	}
	if len(text) > maxTextLen {
		text = text[:maxTextLen]
	}
	return text, nil
}

func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
