// Package render turns raw section markup into a self-contained, styled
// document under the reader's typographic control.
package render

import (
	"fmt"
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ketabkhaneh/epubreader/internal/epub"
	"github.com/ketabkhaneh/epubreader/internal/settings"
)

// Input is everything one render pass needs.
type Input struct {
	Markup       string
	Settings     settings.ReaderSettings
	Metadata     epub.Metadata
	SectionLabel string
	PageIndex    int // zero-based section index
	PageTotal    int
	CoverDataURI string // optional, shown on placeholders
}

// Document is a rendered section.
type Document struct {
	HTML        string // complete document for an isolated surface
	Content     string // sanitized section body
	Stylesheet  string
	Title       string
	Placeholder bool
}

// strippedElements are removed together with their content.
const strippedElements = "script, style, link, meta, title"

// Render runs the strip pipeline and wraps the result. It never fails: empty
// or unusable markup yields a placeholder document.
func Render(in Input) Document {
	css := Stylesheet(in.Settings)
	doc := Document{
		Stylesheet: css,
		Title:      in.SectionLabel,
	}

	content := ""
	if strings.TrimSpace(in.Markup) != "" {
		content = sanitize(stripMarkup(in.Markup))
	}

	if strings.TrimSpace(content) == "" {
		doc.Placeholder = true
		doc.Content = placeholderBody(in)
	} else {
		doc.Content = content
	}

	doc.HTML = wrap(in, css, doc.Content)
	return doc
}

// stripMarkup removes unwanted elements, drops the head, unwraps html and
// body and removes document-supplied styling attributes.
func stripMarkup(markup string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(epub.ExpandSelfClosing(markup)))
	if err != nil {
		return ""
	}

	// Step 1: elements and their content
	doc.Find(strippedElements).Remove()

	// Step 2: head goes, html/body are unwrapped by taking the body's children
	doc.Find("head").Remove()
	body := doc.Find("body")

	// Step 3: attributes
	body.Find("*").Each(func(i int, s *goquery.Selection) {
		node := s.Get(0)
		var toRemove []string
		for _, attr := range node.Attr {
			if isStrippedAttr(attr.Namespace, attr.Key) {
				toRemove = append(toRemove, attr.Key)
			}
		}
		for _, key := range toRemove {
			s.RemoveAttr(key)
		}
	})

	inner, err := body.Html()
	if err != nil {
		return ""
	}
	return inner
}

func isStrippedAttr(namespace, key string) bool {
	if namespace == "xmlns" {
		return true
	}
	switch key {
	case "xmlns", "epub:type", "class", "id", "style":
		return true
	}
	return strings.HasPrefix(key, "xmlns:")
}

func placeholderBody(in Input) string {
	label := in.SectionLabel
	if label == "" {
		label = "بخش " + persianDigits(in.PageIndex+1)
	}

	var b strings.Builder
	b.WriteString(`<div class="placeholder">`)
	if strings.HasPrefix(in.CoverDataURI, "data:image/") {
		fmt.Fprintf(&b, `<img class="placeholder-cover" src="%s" alt="">`, html.EscapeString(in.CoverDataURI))
	}
	fmt.Fprintf(&b, `<h1 class="placeholder-chapter">%s</h1>`, html.EscapeString(label))
	if in.Metadata.Title != "" {
		fmt.Fprintf(&b, `<p class="placeholder-title">%s</p>`, html.EscapeString(in.Metadata.Title))
	}
	if author := in.Metadata.Author(); author != "" {
		fmt.Fprintf(&b, `<p class="placeholder-author">%s</p>`, html.EscapeString(author))
	}
	b.WriteString(`<p class="placeholder-note">محتوای این بخش در دسترس نیست.</p>`)
	b.WriteString(`</div>`)
	return b.String()
}

func wrap(in Input, css, content string) string {
	lang := in.Metadata.Language
	if lang == "" {
		lang = "fa"
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n")
	fmt.Fprintf(&b, `<html lang="%s" dir="rtl">`, html.EscapeString(lang))
	b.WriteString(`<head><meta charset="utf-8">`)
	b.WriteString(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
	fmt.Fprintf(&b, "<title>%s</title>", html.EscapeString(in.SectionLabel))
	fmt.Fprintf(&b, "<style>%s</style>", strings.ReplaceAll(css, "</style>", `<\/style>`))
	b.WriteString(`</head><body><main class="reader">`)
	if in.SectionLabel != "" {
		fmt.Fprintf(&b, `<header class="chapter-header"><h2 class="chapter-title">%s</h2></header>`, html.EscapeString(in.SectionLabel))
	}
	fmt.Fprintf(&b, `<article class="chapter-content">%s</article>`, content)
	if in.PageTotal > 0 {
		fmt.Fprintf(&b, `<footer class="page-footer">%s</footer>`, html.EscapeString(PageLabel(in.PageIndex, in.PageTotal)))
	}
	b.WriteString("</main></body></html>")
	return b.String()
}

// PageLabel is the footer text for a zero-based section index.
func PageLabel(index, total int) string {
	return "صفحه " + persianDigits(index+1) + " از " + persianDigits(total)
}

var digitReplacer = strings.NewReplacer(
	"0", "۰", "1", "۱", "2", "۲", "3", "۳", "4", "۴",
	"5", "۵", "6", "۶", "7", "۷", "8", "۸", "9", "۹",
)

func persianDigits(n int) string {
	return digitReplacer.Replace(fmt.Sprint(n))
}
