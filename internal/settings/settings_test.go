package settings

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	d := Default()
	assert.Equal(t, 18, d.FontSize)
	assert.Equal(t, FontVazirmatn, d.FontFamily)
	assert.Equal(t, ThemeLight, d.Theme)
	assert.InDelta(t, 1.8, d.LineHeight, 1e-9)
	assert.Equal(t, 40, d.Margin)
	assert.Equal(t, WidthStandard, d.Width)
	assert.True(t, d.Justify)
	assert.False(t, d.Hyphenation)
	assert.Equal(t, d, d.Clamp(), "defaults must already be in range")
}

func TestClamp(t *testing.T) {
	tests := []struct {
		name string
		in   ReaderSettings
		want ReaderSettings
	}{
		{
			name: "below minimums",
			in:   ReaderSettings{FontSize: 4, LineHeight: 0.5, Margin: 0, Theme: ThemeDark, Width: WidthWide, FontFamily: FontSahel},
			want: ReaderSettings{FontSize: 12, LineHeight: 1.2, Margin: 20, Theme: ThemeDark, Width: WidthWide, FontFamily: FontSahel},
		},
		{
			name: "above maximums",
			in:   ReaderSettings{FontSize: 64, LineHeight: 4, Margin: 200, Theme: ThemeSepia, Width: WidthNarrow, FontFamily: FontSystem},
			want: ReaderSettings{FontSize: 32, LineHeight: 2.5, Margin: 80, Theme: ThemeSepia, Width: WidthNarrow, FontFamily: FontSystem},
		},
		{
			name: "unknown enums fall back",
			in:   ReaderSettings{FontSize: 20, LineHeight: 2, Margin: 30, Theme: "neon", Width: "huge", FontFamily: "comic"},
			want: ReaderSettings{FontSize: 20, LineHeight: 2, Margin: 30, Theme: ThemeLight, Width: WidthStandard, FontFamily: FontVazirmatn},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Clamp())
		})
	}
}

func TestLookups(t *testing.T) {
	tests := []struct {
		theme Theme
		want  Palette
	}{
		{ThemeLight, Palette{"#ffffff", "#000000", "#3b82f6", "#6b7280", "#f3f4f6"}},
		{ThemeDark, Palette{"#1a1a1a", "#e5e5e5", "#3b82f6", "#888", "#262626"}},
		{ThemeSepia, Palette{"#f4f1ea", "#5c4b37", "#8b4513", "#8b7355", "#ebe4d6"}},
		{ThemeNight, Palette{"#0a0a0a", "#d4d4d4", "#60a5fa", "#6b7280", "#171717"}},
	}
	for _, tt := range tests {
		s := Default()
		s.Theme = tt.theme
		assert.Equal(t, tt.want, s.Palette(), "theme %s", tt.theme)
	}

	s := Default()
	for w, px := range map[Width]int{WidthNarrow: 600, WidthStandard: 800, WidthWide: 1000, "bogus": 800} {
		s.Width = w
		assert.Equal(t, px, s.MaxWidth(), "width %s", w)
	}

	s.FontFamily = "bogus"
	assert.Contains(t, s.FontStack(), "Vazirmatn")
}

type memPersister struct {
	mu      sync.Mutex
	saved   *ReaderSettings
	saves   int
	loadErr error
	saveErr error
}

func (m *memPersister) LoadSettings() (ReaderSettings, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return ReaderSettings{}, false, m.loadErr
	}
	if m.saved == nil {
		return ReaderSettings{}, false, nil
	}
	return *m.saved, true, nil
}

func (m *memPersister) SaveSettings(s ReaderSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = &s
	return nil
}

func TestStore_LoadsPersistedValue(t *testing.T) {
	saved := Default()
	saved.Theme = ThemeNight
	saved.FontSize = 99
	p := &memPersister{saved: &saved}

	s := NewStore(p, nil)

	got := s.Get()
	assert.Equal(t, ThemeNight, got.Theme)
	assert.Equal(t, MaxFontSize, got.FontSize, "loaded values are clamped")
}

func TestStore_LoadErrorUsesDefaults(t *testing.T) {
	s := NewStore(&memPersister{loadErr: errors.New("disk gone")}, nil)
	assert.Equal(t, Default(), s.Get())
}

func TestStore_UpdateClampsPersistsAndBroadcasts(t *testing.T) {
	p := &memPersister{}
	s := NewStore(p, nil)

	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	got := s.Update(func(rs *ReaderSettings) {
		rs.FontSize = 100
		rs.Theme = ThemeSepia
	})
	assert.Equal(t, MaxFontSize, got.FontSize)

	select {
	case v := <-ch:
		assert.Equal(t, got, v)
	default:
		t.Fatal("expected a broadcast after Update")
	}

	require.NotNil(t, p.saved)
	assert.Equal(t, got, *p.saved)
}

func TestStore_SlowSubscriberSeesLatest(t *testing.T) {
	s := NewStore(nil, nil)
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	for size := 13; size <= 20; size++ {
		s.Update(func(rs *ReaderSettings) { rs.FontSize = size })
	}

	v := <-ch
	assert.Equal(t, 20, v.FontSize)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected stale value %+v", extra)
	default:
	}
}

func TestStore_Unsubscribe(t *testing.T) {
	s := NewStore(nil, nil)
	ch, unsubscribe := s.Subscribe()
	_, other := s.Subscribe()
	defer other()
	require.Equal(t, 2, s.Subscribers())

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 1, s.Subscribers())

	_, open := <-ch
	assert.False(t, open, "channel is closed after unsubscribe")

	// Updates after unsubscribe must not panic on the closed channel.
	s.Update(func(rs *ReaderSettings) { rs.Justify = false })
}

func TestStore_SaveErrorStillUpdates(t *testing.T) {
	p := &memPersister{saveErr: errors.New("quota exceeded")}
	s := NewStore(p, nil)

	got := s.Set(ReaderSettings{FontSize: 22, Theme: ThemeDark})
	assert.Equal(t, 22, s.Get().FontSize)
	assert.Equal(t, got, s.Get())
	assert.Equal(t, 1, p.saves)
}

func TestStore_ConcurrentUpdates(t *testing.T) {
	s := NewStore(nil, nil)
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Update(func(rs *ReaderSettings) { rs.Margin = MinMargin + i })
		}(i)
	}
	wg.Wait()

	v := <-ch
	assert.Equal(t, s.Get(), v)
}
