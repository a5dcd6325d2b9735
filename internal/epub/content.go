package epub

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// SectionContent returns the raw markup of the section at index. Out of
// range indices and missing resources yield "", which callers render as a
// placeholder. Nothing is cached here.
func (b *Book) SectionContent(index int) string {
	if index < 0 || index >= len(b.pkg.Sections) {
		return ""
	}
	s := b.pkg.Sections[index]
	markup, ok := b.archive.ReadText(s.Path)
	if !ok {
		b.logger.Warn("section content unavailable", "section", index, "path", s.Path)
		return ""
	}
	return markup
}

// SectionText returns the visible text of a section with block boundaries
// turned into newlines.
func (b *Book) SectionText(index int) string {
	markup := b.SectionContent(index)
	if markup == "" {
		return ""
	}
	return ExtractText(markup)
}

// ExtractText strips markup and returns the visible text.
func ExtractText(markup string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(ExpandSelfClosing(markup)))
	if err != nil {
		return ""
	}
	doc.Find("script, style, head").Remove()

	var lines []string
	doc.Find("body").Find("p, h1, h2, h3, h4, h5, h6, li, blockquote, pre, td, dt, dd").Each(func(i int, s *goquery.Selection) {
		// Nested blocks are reported by their innermost element only.
		if s.Find("p, li, blockquote").Length() > 0 {
			return
		}
		if text := strings.Join(strings.Fields(s.Text()), " "); text != "" {
			lines = append(lines, text)
		}
	})
	if len(lines) == 0 {
		return strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	}
	return strings.Join(lines, "\n")
}
