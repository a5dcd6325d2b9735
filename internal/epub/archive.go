package epub

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"
)

const (
	// MaxArchiveSize caps the number of bytes read from an EPUB download.
	MaxArchiveSize int64 = 512 * 1024 * 1024

	// maxEntrySize caps the decompressed size of a single archive entry.
	maxEntrySize int64 = 256 * 1024 * 1024

	expectedMimetype = "application/epub+zip"
)

// Archive provides path lookups over the entries of a loaded EPUB container.
type Archive struct {
	zr    *zip.Reader
	exact map[string]*zip.File
	lower map[string]*zip.File

	mu       sync.Mutex
	warnings []string
}

// LoadFromURL downloads an EPUB with a plain GET and opens it. A transport
// failure or a non-2xx status is returned as *FetchError.
func LoadFromURL(ctx context.Context, client *http.Client, url string) (*Archive, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	req.Header.Set("Accept", "application/epub+zip, application/octet-stream")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode}
	}

	buf, err := io.ReadAll(io.LimitReader(resp.Body, MaxArchiveSize+1))
	if err != nil {
		return nil, &FetchError{URL: url, Err: err}
	}
	if int64(len(buf)) > MaxArchiveSize {
		return nil, &FetchError{URL: url, Err: ErrArchiveTooLarge}
	}

	return LoadFromBytes(buf)
}

// LoadFromFile reads an EPUB from the local filesystem.
func LoadFromFile(name string) (*Archive, error) {
	buf, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read EPUB: %w", err)
	}
	return LoadFromBytes(buf)
}

// LoadFromBytes opens an in-memory EPUB container.
func LoadFromBytes(buf []byte) (*Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchive, err)
	}

	a := &Archive{
		zr:    zr,
		exact: make(map[string]*zip.File, len(zr.File)),
		lower: make(map[string]*zip.File, len(zr.File)),
	}
	for _, f := range zr.File {
		name := normalizeEntryName(f.Name)
		if _, ok := a.exact[name]; !ok {
			a.exact[name] = f
		}
		lower := strings.ToLower(name)
		if _, ok := a.lower[lower]; !ok {
			a.lower[lower] = f
		}
	}

	a.checkMimetype()
	return a, nil
}

// ReadFile returns the decompressed bytes of an entry. The boolean is false
// when the entry is absent or cannot be read, so callers can fall back.
func (a *Archive) ReadFile(name string) ([]byte, bool) {
	f := a.find(name)
	if f == nil {
		return nil, false
	}
	data, err := readEntry(f, maxEntrySize)
	if err != nil {
		a.warn(err.Error())
		return nil, false
	}
	return data, true
}

// ReadText is ReadFile for textual entries; a leading UTF-8 BOM is dropped.
func (a *Archive) ReadText(name string) (string, bool) {
	data, ok := a.ReadFile(name)
	if !ok {
		return "", false
	}
	return string(stripBOM(data)), true
}

// Has reports whether the archive contains the entry.
func (a *Archive) Has(name string) bool {
	return a.find(name) != nil
}

// Files lists entry names in archive order.
func (a *Archive) Files() []string {
	names := make([]string, 0, len(a.zr.File))
	for _, f := range a.zr.File {
		names = append(names, normalizeEntryName(f.Name))
	}
	return names
}

// Warnings returns non-fatal problems found while reading the archive.
func (a *Archive) Warnings() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.warnings...)
}

func (a *Archive) warn(msg string) {
	a.mu.Lock()
	a.warnings = append(a.warnings, msg)
	a.mu.Unlock()
}

func (a *Archive) find(name string) *zip.File {
	name = normalizeEntryName(name)
	if f, ok := a.exact[name]; ok {
		return f
	}
	if f, ok := a.lower[strings.ToLower(name)]; ok {
		return f
	}
	return nil
}

// checkMimetype records deviations from the OCF mimetype rules as warnings.
func (a *Archive) checkMimetype() {
	f, ok := a.exact["mimetype"]
	if !ok {
		a.warn("mimetype entry missing")
		return
	}
	if f.Method != zip.Store {
		a.warn("mimetype entry is compressed")
	}
	data, err := readEntry(f, 1024)
	if err != nil {
		a.warn(fmt.Sprintf("cannot read mimetype entry: %v", err))
		return
	}
	if got := strings.TrimSpace(string(data)); got != expectedMimetype {
		a.warn(fmt.Sprintf("unexpected mimetype: %q", got))
	}
}

// readEntry reads a zip entry while guarding against traversal and zip bombs.
func readEntry(f *zip.File, limit int64) ([]byte, error) {
	if !isSafePath(f.Name) {
		return nil, fmt.Errorf("epub: unsafe zip entry path: %s", f.Name)
	}
	if f.UncompressedSize64 > uint64(limit) {
		return nil, fmt.Errorf("epub: zip entry %s too large: %d bytes", f.Name, f.UncompressedSize64)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("epub: open zip entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, fmt.Errorf("epub: read zip entry %s: %w", f.Name, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("epub: zip entry %s exceeds %d bytes", f.Name, limit)
	}
	return data, nil
}

func normalizeEntryName(name string) string {
	return strings.TrimPrefix(strings.ReplaceAll(name, "\\", "/"), "./")
}

// isSafePath reports whether p stays inside the archive root.
func isSafePath(p string) bool {
	cleaned := path.Clean(normalizeEntryName(p))
	if strings.HasPrefix(cleaned, "/") {
		return false
	}
	return cleaned != ".." && !strings.HasPrefix(cleaned, "../")
}

func stripBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
}
