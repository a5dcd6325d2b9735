package epub

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"
)

const testContainer = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

// buildEPUB zips files into an EPUB. The mimetype entry is written first
// and stored; the other entries follow in name order.
func buildEPUB(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	mw, err := w.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	if err != nil {
		t.Fatalf("failed to create mimetype: %v", err)
	}
	if _, err := mw.Write([]byte("application/epub+zip")); err != nil {
		t.Fatalf("failed to write mimetype: %v", err)
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatalf("failed to create %s: %v", name, err)
		}
		if _, err := fw.Write([]byte(files[name])); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}

	if err := w.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}
	return buf.Bytes()
}

// chapterXHTML returns a small XHTML chapter.
func chapterXHTML(title, body string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<head><title>%s</title><link rel="stylesheet" href="../css/style.css"/></head>
<body><h1>%s</h1><p>%s</p></body>
</html>`, title, title, body)
}

// opfWith builds an OPF document from manifest and spine fragments.
func opfWith(manifest, spineAttrs, spine string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="uid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>کتاب آزمایشی</dc:title>
    <dc:creator>نویسنده یک</dc:creator>
    <dc:language>fa</dc:language>
    <dc:identifier id="uid">urn:uuid:1234</dc:identifier>
  </metadata>
  <manifest>` + manifest + `</manifest>
  <spine` + spineAttrs + `>` + spine + `</spine>
</package>`
}

// sectionBook builds an n-section book with no ToC documents, so the spine
// fallback applies.
func sectionBook(t *testing.T, n int) *Book {
	t.Helper()

	var manifest, spine strings.Builder
	files := map[string]string{"META-INF/container.xml": testContainer}
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&manifest, `<item id="ch%d" href="text/ch%d.xhtml" media-type="application/xhtml+xml"/>`, i, i)
		fmt.Fprintf(&spine, `<itemref idref="ch%d"/>`, i)
		files[fmt.Sprintf("OEBPS/text/ch%d.xhtml", i)] = chapterXHTML(fmt.Sprintf("Chapter %d", i), "body")
	}
	files["OEBPS/content.opf"] = opfWith(manifest.String(), "", spine.String())

	return openTestBook(t, files)
}

func openTestBook(t *testing.T, files map[string]string) *Book {
	t.Helper()
	a, err := LoadFromBytes(buildEPUB(t, files))
	if err != nil {
		t.Fatalf("LoadFromBytes() error = %v", err)
	}
	b, err := Open(a, quietLogger())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return b
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
