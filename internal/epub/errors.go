package epub

import (
	"errors"
	"fmt"
)

// Sentinel errors for the fatal-to-load conditions. Anything missing below
// the package document is reported as an absent value instead.
var (
	// ErrArchive indicates the input is not a readable ZIP archive.
	ErrArchive = errors.New("epub: invalid zip archive")

	// ErrInvalidContainer indicates META-INF/container.xml is missing,
	// malformed, or names no package document.
	ErrInvalidContainer = errors.New("epub: invalid container")

	// ErrInvalidPackage indicates the OPF package document is missing
	// or cannot be parsed.
	ErrInvalidPackage = errors.New("epub: invalid package document")

	// ErrArchiveTooLarge indicates a download exceeded MaxArchiveSize.
	ErrArchiveTooLarge = errors.New("epub: archive too large")
)

// FetchError reports a failed archive download. StatusCode is zero when the
// request never produced an HTTP response.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("epub: fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("epub: fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
