// Package reader is the reading session controller: it opens a book,
// navigates its sections, renders them under the shared settings and keeps
// position, bookmarks and reading time in sync with local and remote
// storage.
package reader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ketabkhaneh/epubreader/internal/api"
	"github.com/ketabkhaneh/epubreader/internal/epub"
	"github.com/ketabkhaneh/epubreader/internal/id"
	"github.com/ketabkhaneh/epubreader/internal/position"
	"github.com/ketabkhaneh/epubreader/internal/render"
	"github.com/ketabkhaneh/epubreader/internal/search"
	"github.com/ketabkhaneh/epubreader/internal/settings"
	"github.com/ketabkhaneh/epubreader/internal/storage"
	"github.com/ketabkhaneh/epubreader/internal/tracker"
)

const (
	defaultCacheBytes = 4 << 20
	coverWidth        = 240
	remoteTimeout     = 15 * time.Second
)

// State is the lifecycle state of a session.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

// BookLoader opens the book at source, a local path or an http(s) URL.
type BookLoader func(ctx context.Context, source string) (*epub.Book, error)

// LocalStore is the local persistence the session needs.
type LocalStore interface {
	SaveProgress(bookID string, p storage.Progress) error
	LoadProgress(bookID string) (storage.Progress, bool, error)
	SaveBookmarks(bookID string, bookmarks []storage.Bookmark) error
	LoadBookmarks(bookID string) ([]storage.Bookmark, error)
}

// Remote is the progress API.
type Remote interface {
	SetProgress(ctx context.Context, bookID string, fraction float64) (*api.Response, error)
	AddTimeSpent(ctx context.Context, bookID string, seconds int) (*api.Response, error)
}

// Deps are the collaborators of a session. Settings is required; a nil
// Store or Remote disables local or remote persistence.
type Deps struct {
	Loader   BookLoader
	Store    LocalStore
	Remote   Remote
	Settings *settings.Store
	Tracker  tracker.Config
	Clock    func() time.Time
	Logger   *slog.Logger

	// CacheBytes bounds the section markup kept in memory.
	CacheBytes int
}

// SectionRef is the denormalized section in Progress.
type SectionRef struct {
	Index int    `json:"index"`
	Href  string `json:"href"`
	Label string `json:"label"`
}

// Progress is derived from the current section on every navigation.
type Progress struct {
	Fraction       float64    `json:"fraction"`
	Location       int        `json:"location"`
	TotalLocations int        `json:"totalLocations"`
	Section        SectionRef `json:"section"`
	CFI            string     `json:"cfi"`
}

// Session is one open book. All methods are safe for concurrent use; a
// navigation only applies if no newer navigation was issued meanwhile.
type Session struct {
	id       string
	loader   BookLoader
	store    LocalStore
	remote   Remote
	settings *settings.Store
	now      func() time.Time
	logger   *slog.Logger
	fetch    func(ctx context.Context, book *epub.Book, index int) string

	trackerCfg tracker.Config
	cacheBytes int

	mu        sync.Mutex
	state     State
	err       error
	closed    bool
	gen       uint64
	bookID    string
	source    string
	book      *epub.Book
	sections  []epub.Section
	toc       []epub.TOCItem
	cover     string
	index     *search.Index
	current   int
	progress  Progress
	rs        settings.ReaderSettings
	doc       render.Document
	bookmarks []storage.Bookmark
	panels    map[Panel]bool

	preserved      string
	preservedIndex int
	cached         []int // section indices with cached markup, oldest first
	cachedBytes    int

	tracker      *tracker.Tracker
	unsubscribe  func()
	settingsDone chan struct{}
	remoteWG     sync.WaitGroup
}

// NewSession creates an idle session.
func NewSession(deps Deps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Settings == nil {
		deps.Settings = settings.NewStore(nil, logger)
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.CacheBytes <= 0 {
		deps.CacheBytes = defaultCacheBytes
	}
	if deps.Loader == nil {
		deps.Loader = func(ctx context.Context, source string) (*epub.Book, error) {
			return epub.Load(ctx, http.DefaultClient, source, logger)
		}
	}

	sid := id.MustGenerate("rs")
	return &Session{
		id:             sid,
		loader:         deps.Loader,
		store:          deps.Store,
		remote:         deps.Remote,
		settings:       deps.Settings,
		now:            deps.Clock,
		logger:         logger.With("session_id", sid),
		fetch:          fetchSection,
		trackerCfg:     deps.Tracker,
		cacheBytes:     deps.CacheBytes,
		state:          StateIdle,
		current:        -1,
		preservedIndex: -1,
		panels:         make(map[Panel]bool),
	}
}

func fetchSection(_ context.Context, book *epub.Book, index int) string {
	return book.SectionContent(index)
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Initialize loads the book, restores the saved position and renders the
// starting section. A load or parse failure puts the session in the error
// state; Retry runs the whole sequence again.
func (s *Session) Initialize(ctx context.Context, bookID, source string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.gen++
	gen := s.gen
	s.state = StateLoading
	s.err = nil
	s.bookID = bookID
	s.source = source
	s.mu.Unlock()

	logger := s.logger.With("book_id", bookID)
	logger.Info("opening book", "source", source)

	book, err := s.loader(ctx, source)
	if err != nil {
		err = fmt.Errorf("open book: %w", err)
		s.mu.Lock()
		if gen == s.gen && !s.closed {
			s.state = StateError
			s.err = err
		}
		s.mu.Unlock()
		logger.Error("failed to open book", "error", err)
		return err
	}

	// Subscribe before reading the settings below so that no update falls
	// between the two.
	s.subscribeSettings()

	sections := book.Sections()
	start := s.savedSection(bookID, len(sections))
	bookmarks := s.loadBookmarks(bookID)
	index := s.buildIndex(book, sections)
	cover := coverDataURI(book, logger)

	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		if index != nil {
			_ = index.Close()
		}
		logger.Debug("discarding superseded book load")
		if s.isClosed() {
			return ErrClosed
		}
		return nil
	}
	if s.index != nil {
		_ = s.index.Close()
	}
	s.book = book
	s.sections = sections
	s.toc = book.TOC()
	s.cover = cover
	s.index = index
	s.bookmarks = bookmarks
	s.current = -1
	s.progress = Progress{TotalLocations: len(sections)}
	s.preserved = ""
	s.preservedIndex = -1
	s.cached = nil
	s.cachedBytes = 0
	s.rs = s.settings.Get()
	s.state = StateReady
	if len(sections) == 0 {
		s.doc = s.renderLocked("")
	}
	s.mu.Unlock()

	logger.Info("book opened",
		"title", book.Metadata().Title,
		"sections", len(sections),
		"toc_source", book.TOCSource(),
		"start_section", start,
	)

	s.startTracking(ctx)

	if len(sections) > 0 {
		s.load(ctx, start)
	}
	return nil
}

// Retry reruns Initialize with the last book id and source.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	bookID, source := s.bookID, s.source
	s.mu.Unlock()
	if source == "" {
		return ErrNotInitialized
	}
	return s.Initialize(ctx, bookID, source)
}

// savedSection returns the locally saved section when it is in range.
func (s *Session) savedSection(bookID string, total int) int {
	if s.store == nil {
		return 0
	}
	saved, ok, err := s.store.LoadProgress(bookID)
	if err != nil {
		s.logger.Warn("failed to load saved progress", "book_id", bookID, "error", err)
		return 0
	}
	if !ok || !position.AtSection(saved.SectionIndex).InRange(total) {
		return 0
	}
	return saved.SectionIndex
}

func (s *Session) loadBookmarks(bookID string) []storage.Bookmark {
	if s.store == nil {
		return []storage.Bookmark{}
	}
	bookmarks, err := s.store.LoadBookmarks(bookID)
	if err != nil {
		s.logger.Warn("failed to load bookmarks", "book_id", bookID, "error", err)
		return []storage.Bookmark{}
	}
	return bookmarks
}

func (s *Session) buildIndex(book *epub.Book, sections []epub.Section) *search.Index {
	docs := make([]search.Section, len(sections))
	for i, sec := range sections {
		docs[i] = search.Section{Index: sec.Index, Label: sec.Label, Text: book.SectionText(i)}
	}
	index, err := search.Build(docs, s.logger)
	if err != nil {
		s.logger.Warn("failed to build section index, search disabled", "error", err)
		return nil
	}
	return index
}

func coverDataURI(book *epub.Book, logger *slog.Logger) string {
	cover, ok := book.Cover()
	if !ok {
		return ""
	}
	uri, err := cover.DataURI(coverWidth)
	if err != nil {
		logger.Debug("cover not usable", "error", err)
		return ""
	}
	return uri
}

// subscribeSettings re-renders on every settings broadcast until Close.
func (s *Session) subscribeSettings() {
	s.mu.Lock()
	if s.unsubscribe != nil || s.closed {
		s.mu.Unlock()
		return
	}
	ch, unsubscribe := s.settings.Subscribe()
	done := make(chan struct{})
	s.unsubscribe = unsubscribe
	s.settingsDone = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		for rs := range ch {
			s.SettingsChanged(context.Background(), rs)
		}
	}()
}

// startTracking starts the reading-time tracker once per session. Time is
// only tracked when a remote API is configured.
func (s *Session) startTracking(ctx context.Context) {
	if s.remote == nil {
		return
	}
	s.mu.Lock()
	if s.tracker != nil || s.closed {
		s.mu.Unlock()
		return
	}
	t := tracker.New(s.trackerCfg, s.syncTime, s.logger, tracker.WithClock(s.now))
	s.tracker = t
	s.mu.Unlock()

	t.Start(context.WithoutCancel(ctx))
}

func (s *Session) syncTime(ctx context.Context, seconds int) error {
	s.mu.Lock()
	bookID := s.bookID
	s.mu.Unlock()
	_, err := s.remote.AddTimeSpent(ctx, bookID, seconds)
	return err
}

// Pause stops counting reading time, e.g. while the reader is hidden.
func (s *Session) Pause() {
	if t := s.currentTracker(); t != nil {
		t.Pause()
	}
}

// Resume counts reading time again after Pause.
func (s *Session) Resume() {
	if t := s.currentTracker(); t != nil {
		t.Resume()
	}
}

func (s *Session) currentTracker() *tracker.Tracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker
}

// Close ends the session: pending loads are discarded, the settings
// subscription is dropped and reading time gets a final sync.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.gen++
	unsubscribe, done := s.unsubscribe, s.settingsDone
	t := s.tracker
	index := s.index
	s.index = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
		<-done
	}
	if t != nil {
		if err := t.Stop(ctx); err != nil && !errors.Is(err, tracker.ErrNotStarted) {
			s.logger.Warn("final reading time sync failed", "error", err)
		}
	}
	s.remoteWG.Wait()
	if index != nil {
		if err := index.Close(); err != nil {
			s.logger.Warn("failed to close section index", "error", err)
		}
	}
	s.logger.Debug("session closed")
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// State returns the lifecycle state and, in the error state, the error.
func (s *Session) State() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.err
}

// Progress returns the current progress.
func (s *Session) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// Document returns the last rendered document.
func (s *Session) Document() render.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

// Sections returns a copy of the sections.
func (s *Session) Sections() []epub.Section {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]epub.Section, len(s.sections))
	copy(out, s.sections)
	return out
}

// TOC returns the table of contents.
func (s *Session) TOC() []epub.TOCItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toc
}

// Metadata returns the metadata of the open book.
func (s *Session) Metadata() epub.Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.book == nil {
		return epub.Metadata{}
	}
	return s.book.Metadata()
}

// Snapshot is the externally visible state of a session.
type Snapshot struct {
	SessionID     string         `json:"sessionId"`
	BookID        string         `json:"bookId"`
	State         State          `json:"state"`
	Error         string         `json:"error,omitempty"`
	Metadata      epub.Metadata  `json:"metadata"`
	Progress      Progress       `json:"progress"`
	TOCSource     epub.TOCSource `json:"tocSource,omitempty"`
	CanNext       bool           `json:"canNext"`
	CanPrev       bool           `json:"canPrev"`
	Panels        []Panel        `json:"panels"`
	BookmarkCount int            `json:"bookmarkCount"`
}

// Snapshot returns the current state for display.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		SessionID:     s.id,
		BookID:        s.bookID,
		State:         s.state,
		Progress:      s.progress,
		CanNext:       s.canNextLocked(),
		CanPrev:       s.canPrevLocked(),
		Panels:        s.openPanelsLocked(),
		BookmarkCount: len(s.bookmarks),
	}
	if s.err != nil {
		snap.Error = s.err.Error()
	}
	if s.book != nil {
		snap.Metadata = s.book.Metadata()
		snap.TOCSource = s.book.TOCSource()
	}
	return snap
}
