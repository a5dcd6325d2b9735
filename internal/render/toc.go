package render

import (
	"fmt"
	"html"
	"strings"

	"github.com/ketabkhaneh/epubreader/internal/epub"
)

// TOCPanel renders the outline as nested lists. Entries that resolve to a
// section link to it; the entry for current is marked.
func TOCPanel(items []epub.TOCItem, current int) string {
	var b strings.Builder
	b.WriteString(`<nav class="toc-panel" role="doc-toc">`)
	if len(items) == 0 {
		b.WriteString(`<p class="toc-empty">فهرست مطالب در دسترس نیست.</p>`)
	} else {
		writeTOCEntries(&b, items, current)
	}
	b.WriteString("</nav>")
	return b.String()
}

func writeTOCEntries(b *strings.Builder, items []epub.TOCItem, current int) {
	b.WriteString("<ul>")
	for _, item := range items {
		if item.SectionIndex >= 0 && item.SectionIndex == current {
			b.WriteString(`<li class="current" aria-current="page">`)
		} else {
			b.WriteString("<li>")
		}
		label := html.EscapeString(item.Label)
		if item.SectionIndex >= 0 {
			fmt.Fprintf(b, `<a href="#section-%d" data-section="%d">%s</a>`, item.SectionIndex, item.SectionIndex, label)
		} else {
			fmt.Fprintf(b, "<span>%s</span>", label)
		}
		if len(item.Children) > 0 {
			writeTOCEntries(b, item.Children, current)
		}
		b.WriteString("</li>")
	}
	b.WriteString("</ul>")
}
