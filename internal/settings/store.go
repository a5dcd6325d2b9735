package settings

import (
	"log/slog"
	"sync"
)

// Persister loads and saves the global settings. Implemented by the local
// storage layer.
type Persister interface {
	LoadSettings() (ReaderSettings, bool, error)
	SaveSettings(ReaderSettings) error
}

// Store owns the single settings value and broadcasts every change to its
// subscribers. Writes are last-writer-wins.
type Store struct {
	persister Persister
	logger    *slog.Logger

	mu      sync.RWMutex
	current ReaderSettings
	subs    map[int]chan ReaderSettings
	nextID  int
}

// NewStore creates a store seeded from the persister, or from Default when
// nothing is saved. A nil persister keeps settings in memory only.
func NewStore(p Persister, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		persister: p,
		logger:    logger,
		current:   Default(),
		subs:      make(map[int]chan ReaderSettings),
	}
	if p != nil {
		saved, ok, err := p.LoadSettings()
		switch {
		case err != nil:
			logger.Warn("failed to load reader settings, using defaults", "error", err)
		case ok:
			s.current = saved.Clamp()
		}
	}
	return s
}

// Get returns the current settings.
func (s *Store) Get() ReaderSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update applies fn to a copy of the current settings, clamps the result,
// persists it and broadcasts it. The stored value is returned.
func (s *Store) Update(fn func(*ReaderSettings)) ReaderSettings {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current
	fn(&next)
	next = next.Clamp()
	s.current = next

	if s.persister != nil {
		if err := s.persister.SaveSettings(next); err != nil {
			s.logger.Warn("failed to persist reader settings", "error", err)
		}
	}

	for _, ch := range s.subs {
		deliverLatest(ch, next)
	}
	return next
}

// Set replaces the settings wholesale.
func (s *Store) Set(rs ReaderSettings) ReaderSettings {
	return s.Update(func(cur *ReaderSettings) { *cur = rs })
}

// Subscribe registers for change notifications. The channel holds at most
// one pending value; a slow subscriber sees only the latest settings. The
// returned function unsubscribes and closes the channel; it is safe to call
// more than once.
func (s *Store) Subscribe() (<-chan ReaderSettings, func()) {
	ch := make(chan ReaderSettings, 1)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			close(ch)
			s.mu.Unlock()
		})
	}
}

// Subscribers reports how many subscriptions are live.
func (s *Store) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// deliverLatest replaces any undelivered value with v. Only the store sends
// on ch, and it does so under the write lock.
func deliverLatest(ch chan ReaderSettings, v ReaderSettings) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- v
}
