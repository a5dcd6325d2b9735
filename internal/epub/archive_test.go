package epub

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromBytes_InvalidZip(t *testing.T) {
	_, err := LoadFromBytes([]byte("definitely not a zip"))
	if !errors.Is(err, ErrArchive) {
		t.Fatalf("LoadFromBytes() error = %v, want ErrArchive", err)
	}
}

func TestArchive_ReadFile(t *testing.T) {
	data := buildEPUB(t, map[string]string{
		"META-INF/container.xml":    testContainer,
		"OEBPS/Text/Chapter1.xhtml": "<p>hi</p>",
	})
	a, err := LoadFromBytes(data)
	if err != nil {
		t.Fatalf("LoadFromBytes() error = %v", err)
	}

	tests := []struct {
		name   string
		path   string
		wantOK bool
	}{
		{name: "exact match", path: "OEBPS/Text/Chapter1.xhtml", wantOK: true},
		{name: "case-insensitive fallback", path: "oebps/text/chapter1.xhtml", wantOK: true},
		{name: "leading dot slash", path: "./META-INF/container.xml", wantOK: true},
		{name: "missing entry", path: "OEBPS/missing.xhtml", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := a.ReadFile(tt.path)
			if ok != tt.wantOK {
				t.Errorf("ReadFile(%q) ok = %v, want %v", tt.path, ok, tt.wantOK)
			}
		})
	}

	text, ok := a.ReadText("OEBPS/Text/Chapter1.xhtml")
	if !ok || text != "<p>hi</p>" {
		t.Errorf("ReadText() = %q, %v", text, ok)
	}
	if len(a.Warnings()) != 0 {
		t.Errorf("Warnings() = %v, want none", a.Warnings())
	}
}

func TestArchive_MissingMimetypeIsWarningOnly(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	fw, err := w.Create("META-INF/container.xml")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	fw.Write([]byte(testContainer))
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	a, err := LoadFromBytes(buf.Bytes())
	if err != nil {
		t.Fatalf("LoadFromBytes() error = %v", err)
	}
	warnings := a.Warnings()
	if len(warnings) != 1 || warnings[0] != "mimetype entry missing" {
		t.Errorf("Warnings() = %v, want [mimetype entry missing]", warnings)
	}
}

func TestLoadFromURL(t *testing.T) {
	epubData := buildEPUB(t, map[string]string{"META-INF/container.xml": testContainer})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/book.epub":
			w.Header().Set("Content-Type", "application/epub+zip")
			w.Write(epubData)
		case "/broken.epub":
			w.Write([]byte("<html>not a zip</html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	t.Run("success", func(t *testing.T) {
		a, err := LoadFromURL(context.Background(), srv.Client(), srv.URL+"/book.epub")
		if err != nil {
			t.Fatalf("LoadFromURL() error = %v", err)
		}
		if !a.Has("META-INF/container.xml") {
			t.Error("expected container.xml in downloaded archive")
		}
	})

	t.Run("non-2xx is a FetchError", func(t *testing.T) {
		_, err := LoadFromURL(context.Background(), srv.Client(), srv.URL+"/missing.epub")
		var fetchErr *FetchError
		if !errors.As(err, &fetchErr) {
			t.Fatalf("LoadFromURL() error = %v, want *FetchError", err)
		}
		if fetchErr.StatusCode != http.StatusNotFound {
			t.Errorf("StatusCode = %d, want 404", fetchErr.StatusCode)
		}
	})

	t.Run("body that is not a zip", func(t *testing.T) {
		_, err := LoadFromURL(context.Background(), srv.Client(), srv.URL+"/broken.epub")
		if !errors.Is(err, ErrArchive) {
			t.Fatalf("LoadFromURL() error = %v, want ErrArchive", err)
		}
	})

	t.Run("transport failure", func(t *testing.T) {
		_, err := LoadFromURL(context.Background(), srv.Client(), "http://127.0.0.1:1/book.epub")
		var fetchErr *FetchError
		if !errors.As(err, &fetchErr) {
			t.Fatalf("LoadFromURL() error = %v, want *FetchError", err)
		}
		if fetchErr.StatusCode != 0 {
			t.Errorf("StatusCode = %d, want 0 for transport errors", fetchErr.StatusCode)
		}
	})
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "book.epub")
	if err := os.WriteFile(p, buildEPUB(t, map[string]string{"META-INF/container.xml": testContainer}), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := LoadFromFile(p); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}
	if _, err := LoadFromFile(filepath.Join(dir, "nope.epub")); err == nil {
		t.Fatal("LoadFromFile() on a missing file should fail")
	}
}

func TestIsSafePath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"OEBPS/text/ch1.xhtml", true},
		{"../etc/passwd", false},
		{"OEBPS/../../etc/passwd", false},
		{"/abs/path", false},
		{"OEBPS/./ch1.xhtml", true},
	}
	for _, tt := range tests {
		if got := isSafePath(tt.path); got != tt.want {
			t.Errorf("isSafePath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
