package loader

import (
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"codeberg.org/readeck/go-readability/v2"

	"github.com/relgraph/backend/internal/util"
)

// HTMLToText extracts the readable body of an HTML page.
func HTMLToText(r io.Reader, pageURL *url.URL) (string, error) {
	article, err := readability.FromReader(r, pageURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}
	var b strings.Builder
	if err := article.RenderText(&b); err != nil {
		return "", fmt.Errorf("failed to render article text: %w", err)
	}
	return b.String(), nil
}

// Section is a named part of an annual report.
type Section struct {
	Name  string
	Title string
	Text  string
}

var sectionPatterns = []struct {
	name  string
	title string
	re    *regexp.Regexp
}{
	{"business", "Item 1. Business", regexp.MustCompile(`(?is)ITEM\s*1\.?\s*[-–—:]?\s*BUSINESS(.*?)(?:ITEM\s*1A|ITEM\s*2)`)},
	{"risk_factors", "Item 1A. Risk Factors", regexp.MustCompile(`(?is)ITEM\s*1A\.?\s*[-–—:]?\s*RISK\s*FACTORS(.*?)(?:ITEM\s*1B|ITEM\s*2)`)},
	{"mda", "Item 7. Management's Discussion and Analysis", regexp.MustCompile(`(?is)ITEM\s*7\.?\s*[-–—:]?\s*MANAGEMENT(.*?)(?:ITEM\s*7A|ITEM\s*8)`)},
}

// ExtractSections locates the business, risk factor and MD&A sections of a
// 10-K. The table of contents repeats every heading, so the longest match of
// each section wins. Each section is cut to maxChars runes.
func ExtractSections(text string, maxChars int) []Section {
	var out []Section
	for _, p := range sectionPatterns {
		var best string
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			if body := strings.TrimSpace(m[1]); len(body) > len(best) {
				best = body
			}
		}
		if best == "" {
			continue
		}
		out = append(out, Section{Name: p.name, Title: p.title, Text: util.TruncateRunes(best, maxChars)})
	}
	return out
}

func JoinSections(sections []Section) string {
	parts := make([]string, len(sections))
	for i, s := range sections {
		parts[i] = s.Title + "\n" + s.Text
	}
	return strings.Join(parts, "\n\n")
}
