package epub

import (
	"net/url"
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// resolvePath resolves href against baseDir and returns a cleaned archive
// path. Hrefs escaping the archive root resolve to "".
func resolvePath(baseDir, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "/") {
		return strings.TrimPrefix(href, "/")
	}
	if decoded, err := url.PathUnescape(href); err == nil {
		href = decoded
	}
	joined := href
	if baseDir != "" && baseDir != "." {
		joined = path.Join(baseDir, href)
	}
	cleaned := path.Clean(joined)
	if !isSafePath(cleaned) {
		return ""
	}
	return cleaned
}

// relativeTo turns an archive path back into a path relative to dir.
func relativeTo(dir, archivePath string) string {
	if dir == "" || dir == "." {
		return archivePath
	}
	return strings.TrimPrefix(archivePath, dir+"/")
}

// stripFragment drops a trailing "#fragment".
func stripFragment(href string) string {
	if i := strings.IndexByte(href, '#'); i >= 0 {
		return href[:i]
	}
	return href
}

// hrefKey normalizes an href for matching ToC entries to sections: fragment
// stripped, percent-decoded, NFC-normalized and case-folded.
func hrefKey(href string) string {
	href = stripFragment(strings.TrimSpace(href))
	if decoded, err := url.PathUnescape(href); err == nil {
		href = decoded
	}
	return strings.ToLower(norm.NFC.String(path.Clean(href)))
}
