package epub

import (
	"encoding/xml"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

const ncxMediaType = "application/x-dtbncx+xml"

// resolveTOC tries, in order: the NCX, the EPUB 3 navigation document, and
// a flat list built from the spine. The first strategy that yields at least
// one entry wins; failures of the first two are logged and skipped.
func resolveTOC(a *Archive, pkg *Package, logger *slog.Logger) ([]TOCItem, TOCSource) {
	// Method 1: NCX
	if item, ok := findNCXItem(pkg); ok {
		items, err := loadNCX(a, pkg, item)
		if err != nil {
			logger.Debug("NCX table of contents unusable", "path", item.Path, "error", err)
		} else if len(items) > 0 {
			return items, TOCSourceNCX
		}
	}

	// Method 2: navigation document
	if item, ok := findNavItem(pkg); ok {
		items, err := loadNav(a, pkg, item)
		if err != nil {
			logger.Debug("navigation document unusable", "path", item.Path, "error", err)
		} else if len(items) > 0 {
			return items, TOCSourceNav
		}
	}

	// Method 3: spine
	if items := spineTOC(pkg.Sections); len(items) > 0 {
		return items, TOCSourceSpine
	}

	return []TOCItem{}, TOCSourceNone
}

// findNCXItem prefers the item named by the spine toc attribute, then the
// first manifest item with the NCX media type.
func findNCXItem(pkg *Package) (ManifestItem, bool) {
	if item, ok := pkg.Manifest[pkg.SpineTOC]; ok && item.MediaType == ncxMediaType {
		return item, true
	}
	for _, id := range pkg.ManifestOrder {
		if item := pkg.Manifest[id]; item.MediaType == ncxMediaType {
			return item, true
		}
	}
	return ManifestItem{}, false
}

func findNavItem(pkg *Package) (ManifestItem, bool) {
	for _, id := range pkg.ManifestOrder {
		if item := pkg.Manifest[id]; item.HasProperty("nav") {
			return item, true
		}
	}
	return ManifestItem{}, false
}

func spineTOC(sections []Section) []TOCItem {
	items := make([]TOCItem, 0, len(sections))
	for _, s := range sections {
		items = append(items, TOCItem{
			Label:        s.Label,
			Href:         s.Href,
			SectionIndex: s.Index,
		})
	}
	return items
}

// --- NCX (EPUB 2) ---

type ncxDocument struct {
	XMLName xml.Name `xml:"ncx"`
	NavMap  struct {
		NavPoints []ncxNavPoint `xml:"navPoint"`
	} `xml:"navMap"`
}

type ncxNavPoint struct {
	Label struct {
		Text string `xml:"text"`
	} `xml:"navLabel"`
	Content struct {
		Src string `xml:"src,attr"`
	} `xml:"content"`
	Children []ncxNavPoint `xml:"navPoint"`
}

func loadNCX(a *Archive, pkg *Package, item ManifestItem) ([]TOCItem, error) {
	data, ok := a.ReadFile(item.Path)
	if !ok {
		return nil, fmt.Errorf("NCX %s not found", item.Path)
	}
	return parseNCX(data, item.Path, pkg.Dir)
}

// parseNCX converts navPoints into TOC items with hrefs relative to pkgDir.
func parseNCX(data []byte, ncxPath, pkgDir string) ([]TOCItem, error) {
	var doc ncxDocument
	if err := xml.Unmarshal(preprocessEntities(stripBOM(data)), &doc); err != nil {
		return nil, fmt.Errorf("parse NCX: %w", err)
	}
	return convertNavPoints(doc.NavMap.NavPoints, path.Dir(ncxPath), pkgDir), nil
}

func convertNavPoints(points []ncxNavPoint, ncxDir, pkgDir string) []TOCItem {
	if len(points) == 0 {
		return nil
	}
	items := make([]TOCItem, 0, len(points))
	for _, np := range points {
		items = append(items, TOCItem{
			Label:        cleanLabel(np.Label.Text),
			Href:         packageRelative(ncxDir, pkgDir, np.Content.Src),
			SectionIndex: -1,
			Children:     convertNavPoints(np.Children, ncxDir, pkgDir),
		})
	}
	return items
}

// --- Navigation document (EPUB 3) ---

func loadNav(a *Archive, pkg *Package, item ManifestItem) ([]TOCItem, error) {
	data, ok := a.ReadFile(item.Path)
	if !ok {
		return nil, fmt.Errorf("navigation document %s not found", item.Path)
	}
	return parseNav(data, item.Path, pkg.Dir)
}

// parseNav finds <nav epub:type="toc"> (or role="doc-toc") and walks its
// ol/li/a structure.
func parseNav(data []byte, navPath, pkgDir string) ([]TOCItem, error) {
	doc, err := html.Parse(strings.NewReader(ExpandSelfClosing(string(stripBOM(data)))))
	if err != nil {
		return nil, fmt.Errorf("parse navigation document: %w", err)
	}

	nav := findTOCNav(doc)
	if nav == nil {
		return nil, fmt.Errorf("no toc nav element")
	}
	ol := findFirstElement(nav, "ol")
	if ol == nil {
		return nil, fmt.Errorf("toc nav has no list")
	}
	return parseNavList(ol, path.Dir(navPath), pkgDir), nil
}

func findTOCNav(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "nav" {
		if hasToken(attr(n, "epub:type"), "toc") || hasToken(attr(n, "role"), "doc-toc") {
			return n
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findTOCNav(c); found != nil {
			return found
		}
	}
	return nil
}

func parseNavList(ol *html.Node, navDir, pkgDir string) []TOCItem {
	var items []TOCItem
	for li := ol.FirstChild; li != nil; li = li.NextSibling {
		if li.Type != html.ElementNode || li.Data != "li" {
			continue
		}
		item := TOCItem{SectionIndex: -1}
		for c := li.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.Data {
			case "a":
				if item.Href == "" {
					item.Href = packageRelative(navDir, pkgDir, attr(c, "href"))
					item.Label = cleanLabel(textContent(c))
				}
			case "span":
				if item.Label == "" {
					item.Label = cleanLabel(textContent(c))
				}
			case "ol":
				item.Children = parseNavList(c, navDir, pkgDir)
			}
		}
		items = append(items, item)
	}
	return items
}

func findFirstElement(n *html.Node, tag string) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == tag {
			return c
		}
		if found := findFirstElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key || (a.Namespace != "" && a.Namespace+":"+a.Key == key) {
			return a.Val
		}
	}
	return ""
}

func hasToken(value, token string) bool {
	for _, t := range strings.Fields(value) {
		if t == token {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(textContent(c))
	}
	return sb.String()
}

// cleanLabel collapses whitespace and NFC-normalizes a label.
func cleanLabel(s string) string {
	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}

// packageRelative resolves src (relative to srcDir) and re-expresses it
// relative to the package directory, fragment stripped.
func packageRelative(srcDir, pkgDir, src string) string {
	src = stripFragment(strings.TrimSpace(src))
	if src == "" {
		return ""
	}
	resolved := resolvePath(srcDir, src)
	if resolved == "" {
		return ""
	}
	return relativeTo(pkgDir, resolved)
}

// assignSectionIndices sets SectionIndex on every node whose href matches a
// section.
func assignSectionIndices(items []TOCItem, index map[string]int) {
	for i := range items {
		items[i].SectionIndex = -1
		if items[i].Href != "" {
			if idx, ok := index[hrefKey(items[i].Href)]; ok {
				items[i].SectionIndex = idx
			}
		}
		assignSectionIndices(items[i].Children, index)
	}
}

// walkTOC visits nodes depth-first in document order.
func walkTOC(items []TOCItem, fn func(TOCItem)) {
	for _, item := range items {
		fn(item)
		walkTOC(item.Children, fn)
	}
}
