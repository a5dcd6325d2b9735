package reader

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ketabkhaneh/epubreader/internal/api"
	"github.com/ketabkhaneh/epubreader/internal/settings"
	"github.com/ketabkhaneh/epubreader/internal/storage"
	"github.com/ketabkhaneh/epubreader/internal/tracker"
	"github.com/stretchr/testify/require"
)

const testContainer = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

type bookFixture struct {
	labels  []string     // one section per label
	ncx     bool         // write an NCX naming each section by its label
	missing map[int]bool // sections whose markup file is left out
}

// writeBook writes the fixture as an EPUB file and returns its path.
func writeBook(t *testing.T, f bookFixture) string {
	t.Helper()

	files := map[string]string{"META-INF/container.xml": testContainer}
	var manifest, spine, navPoints strings.Builder
	for i, label := range f.labels {
		name := fmt.Sprintf("text/ch%d.xhtml", i+1)
		fmt.Fprintf(&manifest, `<item id="ch%d" href="%s" media-type="application/xhtml+xml"/>`, i+1, name)
		fmt.Fprintf(&spine, `<itemref idref="ch%d"/>`, i+1)
		fmt.Fprintf(&navPoints, `<navPoint id="np%d" playOrder="%d"><navLabel><text>%s</text></navLabel><content src="%s"/></navPoint>`,
			i+1, i+1, label, name)
		if !f.missing[i] {
			files["OEBPS/"+name] = fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml"><head><title>%s</title></head>
<body><h1>%s</h1><p>متن بخش شماره %d از کتاب.</p></body></html>`, label, label, i+1)
		}
	}

	spineAttrs := ""
	if f.ncx {
		manifest.WriteString(`<item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>`)
		spineAttrs = ` toc="ncx"`
		files["OEBPS/toc.ncx"] = `<?xml version="1.0" encoding="UTF-8"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1"><navMap>` + navPoints.String() + `</navMap></ncx>`
	}

	files["OEBPS/content.opf"] = `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0" unique-identifier="uid">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>شازده کوچولو</dc:title>
    <dc:creator>آنتوان دو سنت اگزوپری</dc:creator>
    <dc:language>fa</dc:language>
    <dc:identifier id="uid">urn:uuid:5678</dc:identifier>
  </metadata>
  <manifest>` + manifest.String() + `</manifest>
  <spine` + spineAttrs + `>` + spine.String() + `</spine>
</package>`

	path := filepath.Join(t.TempDir(), "book.epub")
	out, err := os.Create(path)
	require.NoError(t, err)
	defer out.Close()

	w := zip.NewWriter(out)
	mw, err := w.CreateHeader(&zip.FileHeader{Name: "mimetype", Method: zip.Store})
	require.NoError(t, err)
	_, err = mw.Write([]byte("application/epub+zip"))
	require.NoError(t, err)
	for name, content := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return path
}

func labels(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("Ch%d", i+1)
	}
	return out
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 20, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type progressCall struct {
	BookID   string
	Fraction float64
}

type fakeRemote struct {
	mu       sync.Mutex
	progress []progressCall
	time     []int
	err      error
}

func (r *fakeRemote) SetProgress(_ context.Context, bookID string, fraction float64) (*api.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, progressCall{BookID: bookID, Fraction: fraction})
	if r.err != nil {
		return nil, r.err
	}
	return &api.Response{Message: "ok"}, nil
}

func (r *fakeRemote) AddTimeSpent(_ context.Context, _ string, seconds int) (*api.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.time = append(r.time, seconds)
	if r.err != nil {
		return nil, r.err
	}
	return &api.Response{Message: "ok"}, nil
}

func (r *fakeRemote) ProgressCalls() []progressCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progressCall(nil), r.progress...)
}

func (r *fakeRemote) TimeCalls() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.time...)
}

// failingStore fails every write and returns nothing saved.
type failingStore struct{}

var errDiskFull = errors.New("disk full")

func (failingStore) SaveProgress(string, storage.Progress) error { return errDiskFull }
func (failingStore) LoadProgress(string) (storage.Progress, bool, error) {
	return storage.Progress{}, false, errDiskFull
}
func (failingStore) SaveBookmarks(string, []storage.Bookmark) error { return errDiskFull }
func (failingStore) LoadBookmarks(string) ([]storage.Bookmark, error) {
	return nil, errDiskFull
}

type testEnv struct {
	store    *storage.Store
	settings *settings.Store
	remote   *fakeRemote
	clock    *fakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.OpenInMemory(quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return &testEnv{
		store:    store,
		settings: settings.NewStore(store, quietLogger()),
		remote:   &fakeRemote{},
		clock:    newFakeClock(),
	}
}

func (e *testEnv) deps() Deps {
	return Deps{
		Store:    e.store,
		Remote:   e.remote,
		Settings: e.settings,
		Clock:    e.clock.Now,
		Logger:   quietLogger(),
		Tracker:  tracker.Config{TickInterval: time.Hour},
	}
}

// newTestSession creates a session that is closed when the test ends.
func newTestSession(t *testing.T, deps Deps) *Session {
	t.Helper()
	s := NewSession(deps)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

// openBook initializes a session on the fixture.
func openBook(t *testing.T, env *testEnv, f bookFixture) *Session {
	t.Helper()
	s := newTestSession(t, env.deps())
	require.NoError(t, s.Initialize(context.Background(), "book-1", writeBook(t, f)))
	return s
}
