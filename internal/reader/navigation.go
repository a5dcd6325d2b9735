package reader

import (
	"context"

	"github.com/ketabkhaneh/epubreader/internal/position"
	"github.com/ketabkhaneh/epubreader/internal/render"
	"github.com/ketabkhaneh/epubreader/internal/settings"
	"github.com/ketabkhaneh/epubreader/internal/storage"
)

// ContentState classifies what is in hand for the current section when
// the settings change.
type ContentState int

const (
	// ContentPresent: the section's markup is cached; re-render it.
	ContentPresent ContentState = iota
	// ContentPreserved: only the last rendered markup is kept; re-render it.
	ContentPreserved
	// ContentMissing: nothing usable; reload the section.
	ContentMissing
)

func (c ContentState) String() string {
	switch c {
	case ContentPresent:
		return "present"
	case ContentPreserved:
		return "preserved"
	default:
		return "missing"
	}
}

// Next moves to the following section. It reports false, without
// navigating, on the last section.
func (s *Session) Next(ctx context.Context) bool {
	s.mu.Lock()
	if !s.canNextLocked() {
		s.mu.Unlock()
		return false
	}
	target := s.current + 1
	s.mu.Unlock()
	return s.load(ctx, target)
}

// Prev moves to the preceding section. It reports false, without
// navigating, on the first section.
func (s *Session) Prev(ctx context.Context) bool {
	s.mu.Lock()
	if !s.canPrevLocked() {
		s.mu.Unlock()
		return false
	}
	target := s.current - 1
	s.mu.Unlock()
	return s.load(ctx, target)
}

// GoToSection moves to section i. Out of range indices are ignored.
func (s *Session) GoToSection(ctx context.Context, i int) bool {
	return s.load(ctx, i)
}

// GoToFraction moves to the section at fraction f of the book, clamped
// into range.
func (s *Session) GoToFraction(ctx context.Context, f float64) bool {
	s.mu.Lock()
	total := len(s.sections)
	s.mu.Unlock()
	if total == 0 {
		return false
	}
	return s.load(ctx, position.FromFraction(f, total))
}

func (s *Session) canNextLocked() bool {
	return s.state == StateReady && s.current >= 0 && s.current < len(s.sections)-1
}

func (s *Session) canPrevLocked() bool {
	return s.state == StateReady && s.current > 0
}

// load fetches, records and renders section i. The result is discarded
// when a newer navigation or Close happened while fetching.
func (s *Session) load(ctx context.Context, i int) bool {
	s.mu.Lock()
	if s.closed || s.state != StateReady || !position.AtSection(i).InRange(len(s.sections)) {
		s.mu.Unlock()
		return false
	}
	s.gen++
	gen := s.gen
	book := s.book
	cached := s.sections[i].Content
	s.mu.Unlock()

	content := cached
	if content == "" {
		content = s.fetch(ctx, book, i)
	}

	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		s.logger.Debug("discarding stale section load", "section", i, "generation", gen)
		return false
	}
	s.cacheContentLocked(i, content)
	s.preserved = content
	s.preservedIndex = i
	s.current = i
	s.progress = s.progressAtLocked(i)
	progress := s.progress
	bookID := s.bookID
	s.persistProgressLocked(bookID, progress)
	s.doc = s.renderLocked(content)
	push := s.remote != nil
	if push {
		s.remoteWG.Add(1)
	}
	s.mu.Unlock()

	if push {
		s.pushProgress(ctx, bookID, progress.Fraction)
	}

	s.logger.Debug("section loaded",
		"book_id", bookID,
		"section", i,
		"fraction", progress.Fraction,
		"bytes", len(content),
	)
	return true
}

func (s *Session) progressAtLocked(i int) Progress {
	sec := s.sections[i]
	return Progress{
		Fraction:       position.Fraction(i, len(s.sections)),
		Location:       i,
		TotalLocations: len(s.sections),
		Section:        SectionRef{Index: sec.Index, Href: sec.Href, Label: sec.Label},
		CFI:            position.AtSection(i).CFI(),
	}
}

// persistProgressLocked saves the position locally. Failures are logged.
func (s *Session) persistProgressLocked(bookID string, p Progress) {
	if s.store == nil {
		return
	}
	err := s.store.SaveProgress(bookID, storage.Progress{
		SectionIndex: p.Location,
		CFI:          p.CFI,
		Timestamp:    s.now().UnixMilli(),
	})
	if err != nil {
		s.logger.Warn("failed to save progress", "book_id", bookID, "error", err)
	}
}

// pushProgress posts the fraction without blocking navigation. The caller
// has already added to remoteWG.
func (s *Session) pushProgress(ctx context.Context, bookID string, fraction float64) {
	go func() {
		defer s.remoteWG.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), remoteTimeout)
		defer cancel()
		if _, err := s.remote.SetProgress(ctx, bookID, fraction); err != nil {
			s.logger.Warn("failed to sync progress", "book_id", bookID, "fraction", fraction, "error", err)
		}
	}()
}

// cacheContentLocked records the markup of section i and evicts the oldest
// entries beyond the cache budget. Section i itself is evicted when it
// alone exceeds the budget.
func (s *Session) cacheContentLocked(i int, content string) {
	for n, idx := range s.cached {
		if idx == i {
			s.cached = append(s.cached[:n], s.cached[n+1:]...)
			s.cachedBytes -= len(s.sections[i].Content)
			break
		}
	}
	s.sections[i].Content = ""
	if content == "" {
		return
	}
	s.sections[i].Content = content
	s.cached = append(s.cached, i)
	s.cachedBytes += len(content)

	for s.cachedBytes > s.cacheBytes && len(s.cached) > 0 {
		old := s.cached[0]
		s.cached = s.cached[1:]
		s.cachedBytes -= len(s.sections[old].Content)
		s.sections[old].Content = ""
	}
}

// contentStateLocked returns what is in hand for the current section.
func (s *Session) contentStateLocked() (ContentState, string) {
	if c := s.sections[s.current].Content; c != "" {
		return ContentPresent, c
	}
	if s.preservedIndex == s.current && s.preserved != "" {
		return ContentPreserved, s.preserved
	}
	return ContentMissing, ""
}

// SettingsChanged re-renders the current section under rs without
// refetching when the markup is in hand. It reports false when no section
// is shown.
func (s *Session) SettingsChanged(ctx context.Context, rs settings.ReaderSettings) (ContentState, bool) {
	s.mu.Lock()
	if s.closed || s.state != StateReady {
		s.mu.Unlock()
		return ContentMissing, false
	}
	s.rs = rs
	if s.current < 0 {
		if len(s.sections) == 0 {
			s.doc = s.renderLocked("")
		}
		s.mu.Unlock()
		return ContentMissing, false
	}

	state, markup := s.contentStateLocked()
	current := s.current
	if state != ContentMissing {
		s.doc = s.renderLocked(markup)
		s.mu.Unlock()
		s.logger.Debug("re-rendered for new settings", "section", current, "content", state)
		return state, true
	}
	s.mu.Unlock()

	s.logger.Debug("reloading section for new settings", "section", current)
	s.load(ctx, current)
	return ContentMissing, true
}

func (s *Session) renderLocked(markup string) render.Document {
	in := render.Input{
		Markup:       markup,
		Settings:     s.rs,
		CoverDataURI: s.cover,
		PageIndex:    s.current,
		PageTotal:    len(s.sections),
	}
	if s.book != nil {
		in.Metadata = s.book.Metadata()
	}
	if s.current >= 0 && s.current < len(s.sections) {
		in.SectionLabel = s.sections[s.current].Label
	} else {
		in.PageIndex = 0
	}
	return render.Render(in)
}
