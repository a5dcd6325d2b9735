package epub

import "strings"

// Metadata holds the bibliographic facts of a book. Missing fields are
// left empty.
type Metadata struct {
	Title       string   `json:"title,omitempty"`
	Creators    []string `json:"creators,omitempty"`
	Description string   `json:"description,omitempty"`
	Publisher   string   `json:"publisher,omitempty"`
	Language    string   `json:"language,omitempty"`
	Date        string   `json:"date,omitempty"`
	Identifier  string   `json:"identifier,omitempty"`
	Rights      string   `json:"rights,omitempty"`
	Subjects    []string `json:"subjects,omitempty"`
	CoverID     string   `json:"coverId,omitempty"` // EPUB 2 <meta name="cover">
}

// Author joins the creators for display.
func (m Metadata) Author() string {
	return strings.Join(m.Creators, "، ")
}

// ManifestItem is one <manifest><item>.
type ManifestItem struct {
	ID         string
	Href       string // as written in the OPF, relative to the package document
	Path       string // archive path
	MediaType  string
	Properties []string
}

// HasProperty reports whether the space separated properties contain p.
func (m ManifestItem) HasProperty(p string) bool {
	for _, prop := range m.Properties {
		if strings.EqualFold(prop, p) {
			return true
		}
	}
	return false
}

// Section is a spine item: the atomic navigable unit of the reader.
type Section struct {
	Index  int    `json:"index"`
	ID     string `json:"id"`
	Href   string `json:"href"` // relative to the package document
	Path   string `json:"-"`
	Label  string `json:"label"`
	Linear bool   `json:"linear"`

	// Content is filled lazily by the reading session.
	Content string `json:"-"`
}

// TOCItem is a node of the outline. Href is relative to the package
// document, fragment stripped; SectionIndex is -1 when it matches no section.
type TOCItem struct {
	Label        string    `json:"label"`
	Href         string    `json:"href"`
	SectionIndex int       `json:"sectionIndex"`
	Children     []TOCItem `json:"children,omitempty"`
}

// TOCSource names the strategy that produced a table of contents.
type TOCSource string

const (
	TOCSourceNCX   TOCSource = "ncx"
	TOCSourceNav   TOCSource = "nav"
	TOCSourceSpine TOCSource = "spine"
	TOCSourceNone  TOCSource = "none"
)
