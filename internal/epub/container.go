package epub

import (
	"encoding/xml"
	"fmt"
	"strings"
)

const containerPath = "META-INF/container.xml"

type container struct {
	XMLName   xml.Name   `xml:"container"`
	Rootfiles []rootfile `xml:"rootfiles>rootfile"`
}

type rootfile struct {
	FullPath  string `xml:"full-path,attr"`
	MediaType string `xml:"media-type,attr"`
}

// findPackagePath reads container.xml and returns the archive path of the
// OPF package document.
func findPackagePath(a *Archive) (string, error) {
	data, ok := a.ReadFile(containerPath)
	if !ok {
		return "", fmt.Errorf("%w: %s not found", ErrInvalidContainer, containerPath)
	}

	var c container
	if err := xml.Unmarshal(stripBOM(data), &c); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidContainer, err)
	}

	// Prefer the OPF media type, else the first rootfile with a path.
	for _, rf := range c.Rootfiles {
		if rf.MediaType == "application/oebps-package+xml" && strings.TrimSpace(rf.FullPath) != "" {
			return normalizeEntryName(strings.TrimSpace(rf.FullPath)), nil
		}
	}
	for _, rf := range c.Rootfiles {
		if p := strings.TrimSpace(rf.FullPath); p != "" {
			return normalizeEntryName(p), nil
		}
	}

	return "", fmt.Errorf("%w: rootfile full-path missing", ErrInvalidContainer)
}
