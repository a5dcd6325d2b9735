package epub

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// Book is a loaded EPUB: package document, sections and table of contents
// over an archive. A Book is read-only after Open and safe to share.
type Book struct {
	archive   *Archive
	pkg       *Package
	toc       []TOCItem
	tocSource TOCSource
	hrefIndex map[string]int
	logger    *slog.Logger
}

// Open parses the package document and table of contents of a loaded
// archive. Container and package failures are fatal; everything below them
// degrades to empty values.
func Open(a *Archive, logger *slog.Logger) (*Book, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opfPath, err := findPackagePath(a)
	if err != nil {
		return nil, err
	}

	opfData, ok := a.ReadFile(opfPath)
	if !ok {
		return nil, fmt.Errorf("%w: %s not found", ErrInvalidPackage, opfPath)
	}

	pkg, err := parsePackage(opfData, opfPath, logger)
	if err != nil {
		return nil, err
	}

	b := &Book{
		archive:   a,
		pkg:       pkg,
		hrefIndex: make(map[string]int, len(pkg.Sections)),
		logger:    logger,
	}
	for _, s := range pkg.Sections {
		if _, dup := b.hrefIndex[hrefKey(s.Href)]; !dup {
			b.hrefIndex[hrefKey(s.Href)] = s.Index
		}
	}

	b.toc, b.tocSource = resolveTOC(a, pkg, logger)
	assignSectionIndices(b.toc, b.hrefIndex)
	if b.tocSource == TOCSourceNCX || b.tocSource == TOCSourceNav {
		b.labelSectionsFromTOC()
	}

	for _, w := range a.Warnings() {
		logger.Debug("archive warning", "warning", w)
	}

	return b, nil
}

// Load fetches an EPUB from a URL, or reads it from disk when source is not
// an http(s) URL, and opens it.
func Load(ctx context.Context, client *http.Client, source string, logger *slog.Logger) (*Book, error) {
	var (
		a   *Archive
		err error
	)
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		a, err = LoadFromURL(ctx, client, source)
	} else {
		a, err = LoadFromFile(source)
	}
	if err != nil {
		return nil, err
	}
	return Open(a, logger)
}

// labelSectionsFromTOC gives each section the label of the first ToC entry,
// in document order, that points at it.
func (b *Book) labelSectionsFromTOC() {
	labeled := make(map[int]bool, len(b.pkg.Sections))
	walkTOC(b.toc, func(item TOCItem) {
		if item.SectionIndex < 0 || item.Label == "" || labeled[item.SectionIndex] {
			return
		}
		b.pkg.Sections[item.SectionIndex].Label = item.Label
		labeled[item.SectionIndex] = true
	})
}

// Metadata returns the bibliographic metadata.
func (b *Book) Metadata() Metadata {
	return b.pkg.Metadata
}

// Package returns the parsed package document.
func (b *Book) Package() *Package {
	return b.pkg
}

// Archive returns the underlying archive.
func (b *Book) Archive() *Archive {
	return b.archive
}

// Sections returns a copy of the sections in reading order.
func (b *Book) Sections() []Section {
	return append([]Section(nil), b.pkg.Sections...)
}

// TotalSections is fixed once the spine is parsed.
func (b *Book) TotalSections() int {
	return len(b.pkg.Sections)
}

// TOC returns the resolved table of contents.
func (b *Book) TOC() []TOCItem {
	return b.toc
}

// TOCSource reports which strategy produced the table of contents.
func (b *Book) TOCSource() TOCSource {
	return b.tocSource
}

// SectionForHref maps a package-relative href (fragment allowed) to a
// section index.
func (b *Book) SectionForHref(href string) (int, bool) {
	idx, ok := b.hrefIndex[hrefKey(href)]
	return idx, ok
}
