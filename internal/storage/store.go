// Package storage is the local key-value persistence of the reader: saved
// positions, bookmarks and the global settings, as JSON values in badger.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ketabkhaneh/epubreader/internal/settings"
)

const (
	progressKeyPrefix  = "book-progress-"
	bookmarksKeyPrefix = "bookmarks-"
	settingsKey        = "global-reader-settings"
)

// ErrEmptyBookID is returned for operations keyed by an empty book id.
var ErrEmptyBookID = errors.New("storage: empty book id")

// Progress is the saved reading position of a book.
type Progress struct {
	SectionIndex int    `json:"sectionIndex"`
	CFI          string `json:"cfi"`
	Timestamp    int64  `json:"timestamp"` // unix milliseconds
}

// Bookmark is a user-created marker. Bookmarks are local only.
type Bookmark struct {
	ID        string    `json:"id"`
	CFI       string    `json:"cfi"`
	Text      string    `json:"text"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store wraps a Badger database instance.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.SyncWrites = true
	return open(opts, logger)
}

// OpenInMemory opens a database that lives only as long as the process.
func OpenInMemory(logger *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts, logger)
}

func open(opts badger.Options, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}
	logger.Debug("local store opened", "path", opts.Dir, "in_memory", opts.InMemory)
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveProgress overwrites the saved position of a book.
func (s *Store) SaveProgress(bookID string, p Progress) error {
	if bookID == "" {
		return ErrEmptyBookID
	}
	return s.set(progressKey(bookID), p)
}

// LoadProgress returns the saved position. ok is false when none exists.
func (s *Store) LoadProgress(bookID string) (Progress, bool, error) {
	var p Progress
	ok, err := s.get(progressKey(bookID), &p)
	return p, ok, err
}

// SaveBookmarks replaces the whole bookmark list of a book.
func (s *Store) SaveBookmarks(bookID string, bookmarks []Bookmark) error {
	if bookID == "" {
		return ErrEmptyBookID
	}
	if bookmarks == nil {
		bookmarks = []Bookmark{}
	}
	return s.set(bookmarksKey(bookID), bookmarks)
}

// LoadBookmarks returns the bookmarks of a book, empty when none are saved.
func (s *Store) LoadBookmarks(bookID string) ([]Bookmark, error) {
	var bookmarks []Bookmark
	if _, err := s.get(bookmarksKey(bookID), &bookmarks); err != nil {
		return nil, err
	}
	if bookmarks == nil {
		bookmarks = []Bookmark{}
	}
	return bookmarks, nil
}

// SaveSettings implements settings.Persister.
func (s *Store) SaveSettings(rs settings.ReaderSettings) error {
	return s.set([]byte(settingsKey), rs)
}

// LoadSettings implements settings.Persister.
func (s *Store) LoadSettings() (settings.ReaderSettings, bool, error) {
	rs := settings.Default()
	ok, err := s.get([]byte(settingsKey), &rs)
	return rs, ok, err
}

func progressKey(bookID string) []byte {
	return []byte(progressKeyPrefix + bookID)
}

func bookmarksKey(bookID string) []byte {
	return []byte(bookmarksKeyPrefix + bookID)
}

// get decodes the value at key into dest. A missing key is not an error.
func (s *Store) get(key []byte, dest any) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, dest)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return true, nil
}

// set stores value as JSON at key.
func (s *Store) set(key []byte, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}
