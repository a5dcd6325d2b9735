package reader

import (
	"context"
	"strconv"

	"github.com/ketabkhaneh/epubreader/internal/position"
	"github.com/ketabkhaneh/epubreader/internal/search"
	"github.com/ketabkhaneh/epubreader/internal/storage"
)

// AddBookmark marks the current section. The text defaults to the section
// label. The whole list is saved locally; a save failure is logged.
func (s *Session) AddBookmark(note string) (storage.Bookmark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storage.Bookmark{}, ErrClosed
	}
	if s.state != StateReady || s.current < 0 {
		return storage.Bookmark{}, ErrNotReady
	}

	now := s.now().UTC()
	b := storage.Bookmark{
		ID:        s.bookmarkIDLocked(now.UnixMilli()),
		CFI:       s.progress.CFI,
		Text:      s.sections[s.current].Label,
		Note:      note,
		CreatedAt: now,
	}
	s.bookmarks = append(s.bookmarks, b)
	s.saveBookmarksLocked()
	return b, nil
}

// bookmarkIDLocked derives an id from the creation time, suffixed when
// another bookmark was created in the same millisecond.
func (s *Session) bookmarkIDLocked(ms int64) string {
	base := strconv.FormatInt(ms, 10)
	candidate := base
	for n := 1; s.hasBookmarkLocked(candidate); n++ {
		candidate = base + "-" + strconv.Itoa(n)
	}
	return candidate
}

func (s *Session) hasBookmarkLocked(id string) bool {
	for _, b := range s.bookmarks {
		if b.ID == id {
			return true
		}
	}
	return false
}

// DeleteBookmark removes a bookmark by id.
func (s *Session) DeleteBookmark(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, b := range s.bookmarks {
		if b.ID == id {
			s.bookmarks = append(s.bookmarks[:i], s.bookmarks[i+1:]...)
			s.saveBookmarksLocked()
			return true
		}
	}
	return false
}

// Bookmarks returns a copy of the bookmarks, oldest first.
func (s *Session) Bookmarks() []storage.Bookmark {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.Bookmark, len(s.bookmarks))
	copy(out, s.bookmarks)
	return out
}

// Bookmark finds a bookmark by id.
func (s *Session) Bookmark(id string) (storage.Bookmark, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bookmarks {
		if b.ID == id {
			return b, true
		}
	}
	return storage.Bookmark{}, false
}

// GoToBookmark navigates to the bookmarked section. A bookmark whose
// position no longer resolves to a section is ignored.
func (s *Session) GoToBookmark(ctx context.Context, b storage.Bookmark) bool {
	pos, err := position.ParseCFI(b.CFI)
	if err != nil {
		s.logger.Debug("ignoring bookmark with unreadable position", "bookmark_id", b.ID, "cfi", b.CFI)
		return false
	}

	s.mu.Lock()
	total := len(s.sections)
	s.mu.Unlock()
	if !pos.InRange(total) {
		s.logger.Debug("ignoring stale bookmark", "bookmark_id", b.ID, "section", pos.Section, "total", total)
		return false
	}
	return s.GoToSection(ctx, pos.Section)
}

func (s *Session) saveBookmarksLocked() {
	if s.store == nil {
		return
	}
	if err := s.store.SaveBookmarks(s.bookID, s.bookmarks); err != nil {
		s.logger.Warn("failed to save bookmarks", "book_id", s.bookID, "error", err)
	}
}

// Search finds sections matching q. A session without an index returns no
// hits.
func (s *Session) Search(ctx context.Context, q string, limit int) ([]search.Hit, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	index := s.index
	s.mu.Unlock()
	if index == nil {
		return []search.Hit{}, nil
	}
	return index.Search(ctx, q, limit)
}
