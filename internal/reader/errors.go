package reader

import "errors"

var (
	// ErrClosed is returned by operations on a closed session.
	ErrClosed = errors.New("reader: session closed")

	// ErrNotReady is returned when an operation needs a loaded book.
	ErrNotReady = errors.New("reader: book not loaded")

	// ErrNotInitialized is returned by Retry before any Initialize.
	ErrNotInitialized = errors.New("reader: session not initialized")
)
