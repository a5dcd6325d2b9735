package epub

import (
	"encoding/xml"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"
)

// Package is the parsed OPF package document.
type Package struct {
	Path          string // archive path of the OPF
	Dir           string // directory containing the OPF ("." at the root)
	Version       string
	Metadata      Metadata
	Manifest      map[string]ManifestItem // id -> item
	ManifestOrder []string                // ids in document order
	Sections      []Section
	SpineTOC      string // spine toc attribute (EPUB 2 NCX id)
}

// opfPackage represents the OPF XML structure. Element names carry no
// namespace so that dc:* elements match by local name even in sloppy files.
type opfPackage struct {
	XMLName  xml.Name    `xml:"package"`
	Version  string      `xml:"version,attr"`
	UniqueID string      `xml:"unique-identifier,attr"`
	Metadata opfMetadata `xml:"metadata"`
	Manifest opfManifest `xml:"manifest"`
	Spine    opfSpine    `xml:"spine"`
}

type opfMetadata struct {
	Title       []string        `xml:"title"`
	Creator     []string        `xml:"creator"`
	Description []string        `xml:"description"`
	Publisher   []string        `xml:"publisher"`
	Language    []string        `xml:"language"`
	Date        []string        `xml:"date"`
	Identifier  []opfIdentifier `xml:"identifier"`
	Rights      []string        `xml:"rights"`
	Subject     []string        `xml:"subject"`
	Meta        []opfMeta       `xml:"meta"`
}

type opfIdentifier struct {
	Value string `xml:",chardata"`
	ID    string `xml:"id,attr"`
}

type opfMeta struct {
	Name    string `xml:"name,attr"`
	Content string `xml:"content,attr"`
}

type opfManifest struct {
	Items []opfManifestItem `xml:"item"`
}

type opfManifestItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

type opfSpine struct {
	Toc      string       `xml:"toc,attr"`
	ItemRefs []opfItemRef `xml:"itemref"`
}

type opfItemRef struct {
	IDRef  string `xml:"idref,attr"`
	Linear string `xml:"linear,attr"`
}

// parsePackage parses OPF content located at opfPath. Itemrefs that do not
// resolve through the manifest are dropped and the remaining sections are
// re-indexed from zero.
func parsePackage(content []byte, opfPath string, logger *slog.Logger) (*Package, error) {
	var raw opfPackage
	if err := xml.Unmarshal(preprocessEntities(stripBOM(content)), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPackage, err)
	}

	pkg := &Package{
		Path:     opfPath,
		Dir:      path.Dir(opfPath),
		Version:  raw.Version,
		Manifest: make(map[string]ManifestItem, len(raw.Manifest.Items)),
		SpineTOC: raw.Spine.Toc,
	}
	pkg.Metadata = parseMetadata(&raw.Metadata, raw.UniqueID)

	for _, item := range raw.Manifest.Items {
		id := strings.TrimSpace(item.ID)
		href := strings.TrimSpace(item.Href)
		if id == "" || href == "" {
			continue
		}
		if _, dup := pkg.Manifest[id]; dup {
			continue
		}
		pkg.Manifest[id] = ManifestItem{
			ID:         id,
			Href:       href,
			Path:       resolvePath(pkg.Dir, href),
			MediaType:  strings.TrimSpace(item.MediaType),
			Properties: strings.Fields(item.Properties),
		}
		pkg.ManifestOrder = append(pkg.ManifestOrder, id)
	}

	for pos, ref := range raw.Spine.ItemRefs {
		idref := strings.TrimSpace(ref.IDRef)
		item, ok := pkg.Manifest[idref]
		if !ok {
			logger.Warn("spine itemref has no manifest entry, dropping it",
				"idref", idref,
				"itemref_position", pos,
				"opf", opfPath,
			)
			continue
		}
		index := len(pkg.Sections)
		pkg.Sections = append(pkg.Sections, Section{
			Index:  index,
			ID:     item.ID,
			Href:   stripFragment(item.Href),
			Path:   stripFragment(item.Path),
			Label:  defaultSectionLabel(index),
			Linear: ref.Linear != "no",
		})
	}

	return pkg, nil
}

func parseMetadata(meta *opfMetadata, uniqueID string) Metadata {
	md := Metadata{
		Title:       first(meta.Title),
		Description: first(meta.Description),
		Publisher:   first(meta.Publisher),
		Language:    first(meta.Language),
		Date:        first(meta.Date),
		Rights:      first(meta.Rights),
	}

	for _, c := range meta.Creator {
		if c = strings.TrimSpace(c); c != "" {
			md.Creators = append(md.Creators, c)
		}
	}
	for _, s := range meta.Subject {
		if s = strings.TrimSpace(s); s != "" {
			md.Subjects = append(md.Subjects, s)
		}
	}

	// Identifier: the one named by unique-identifier, else the first.
	for _, id := range meta.Identifier {
		if uniqueID != "" && id.ID == uniqueID {
			md.Identifier = strings.TrimSpace(id.Value)
			break
		}
	}
	if md.Identifier == "" && len(meta.Identifier) > 0 {
		md.Identifier = strings.TrimSpace(meta.Identifier[0].Value)
	}

	for _, m := range meta.Meta {
		if m.Name == "cover" && m.Content != "" {
			md.CoverID = m.Content
			break
		}
	}

	return md
}

func first(values []string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func defaultSectionLabel(index int) string {
	return fmt.Sprintf("Chapter %d", index+1)
}

// entityRe matches the HTML named entities that show up in hand-made OPF and
// NCX files; encoding/xml only knows the five XML ones.
var entityRe = regexp.MustCompile(`&(nbsp|mdash|ndash|hellip|lsquo|rsquo|ldquo|rdquo|laquo|raquo|copy|reg|trade|zwnj|zwj|rlm|lrm);`)

var entityNumeric = map[string]string{
	"nbsp": "&#160;", "mdash": "&#8212;", "ndash": "&#8211;", "hellip": "&#8230;",
	"lsquo": "&#8216;", "rsquo": "&#8217;", "ldquo": "&#8220;", "rdquo": "&#8221;",
	"laquo": "&#171;", "raquo": "&#187;", "copy": "&#169;", "reg": "&#174;",
	"trade": "&#8482;", "zwnj": "&#8204;", "zwj": "&#8205;", "rlm": "&#8207;", "lrm": "&#8206;",
}

func preprocessEntities(data []byte) []byte {
	return entityRe.ReplaceAllFunc(data, func(m []byte) []byte {
		return []byte(entityNumeric[string(m[1:len(m)-1])])
	})
}
