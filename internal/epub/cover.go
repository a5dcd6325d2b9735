package epub

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"path"
	"strings"

	"github.com/bbrks/go-blurhash"
	"github.com/disintegration/imaging"
)

// Cover is the detected cover image of a book.
type Cover struct {
	ManifestID      string
	Path            string
	MediaType       string
	DetectionMethod string // "properties", "meta", "filename"
	Data            []byte
}

// Cover detects the cover image. Methods are tried in priority order:
//  1. properties="cover-image" (EPUB 3)
//  2. meta name="cover" (EPUB 2)
//  3. an image whose basename contains "cover"
func (b *Book) Cover() (*Cover, bool) {
	item, method, ok := detectCover(b.pkg)
	if !ok {
		return nil, false
	}
	data, ok := b.archive.ReadFile(item.Path)
	if !ok {
		b.logger.Debug("cover image unreadable", "path", item.Path)
		return nil, false
	}
	return &Cover{
		ManifestID:      item.ID,
		Path:            item.Path,
		MediaType:       item.MediaType,
		DetectionMethod: method,
		Data:            data,
	}, true
}

func detectCover(pkg *Package) (ManifestItem, string, bool) {
	// Method 1: EPUB 3 cover-image property
	for _, id := range pkg.ManifestOrder {
		if item := pkg.Manifest[id]; isRasterImage(item.MediaType) && item.HasProperty("cover-image") {
			return item, "properties", true
		}
	}

	// Method 2: EPUB 2 meta name="cover"
	if pkg.Metadata.CoverID != "" {
		if item, ok := pkg.Manifest[pkg.Metadata.CoverID]; ok && isRasterImage(item.MediaType) {
			return item, "meta", true
		}
	}

	// Method 3: filename pattern
	for _, id := range pkg.ManifestOrder {
		item := pkg.Manifest[id]
		if isRasterImage(item.MediaType) && strings.Contains(strings.ToLower(path.Base(item.Path)), "cover") {
			return item, "filename", true
		}
	}

	return ManifestItem{}, "", false
}

// Thumbnail re-encodes the cover as a JPEG no wider than maxWidth.
func (c *Cover) Thumbnail(maxWidth int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(c.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode cover %s: %w", c.Path, err)
	}
	if maxWidth > 0 && img.Bounds().Dx() > maxWidth {
		img = imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("failed to encode cover thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// DataURI returns the thumbnail as a data: URI for embedding in documents.
func (c *Cover) DataURI(maxWidth int) (string, error) {
	thumb, err := c.Thumbnail(maxWidth)
	if err != nil {
		return "", err
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(thumb), nil
}

// BlurHash encodes a compact placeholder for the cover.
func (c *Cover) BlurHash() (string, error) {
	img, err := imaging.Decode(bytes.NewReader(c.Data))
	if err != nil {
		return "", fmt.Errorf("failed to decode cover %s: %w", c.Path, err)
	}
	// Encoding cost grows with pixel count; 64px wide is plenty for 4x3 components.
	small := imaging.Resize(img, 64, 0, imaging.Box)
	hash, err := blurhash.Encode(4, 3, small)
	if err != nil {
		return "", fmt.Errorf("failed to blurhash cover: %w", err)
	}
	return hash, nil
}

// isRasterImage excludes SVG, which the thumbnailer cannot decode.
func isRasterImage(mediaType string) bool {
	return strings.HasPrefix(mediaType, "image/") && mediaType != "image/svg+xml"
}
