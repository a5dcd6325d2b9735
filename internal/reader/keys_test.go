package reader

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandleKey_Navigation(t *testing.T) {
	env := newTestEnv(t)
	s := openBook(t, env, bookFixture{labels: labels(3)})
	ctx := context.Background()

	tests := []struct {
		key  string
		want int
	}{
		{KeyArrowLeft, 1},
		{KeySpace, 2},
		{KeySpace, 2},
		{KeyArrowRight, 1},
		{KeyArrowRight, 0},
		{KeyArrowRight, 0},
		{"Space", 1},
	}
	for _, tt := range tests {
		assert.True(t, s.HandleKey(ctx, tt.key), tt.key)
		assert.Equal(t, tt.want, s.Progress().Location, "after %q", tt.key)
	}
}

func TestHandleKey_BookmarkAndPanels(t *testing.T) {
	env := newTestEnv(t)
	s := openBook(t, env, bookFixture{labels: labels(3)})
	ctx := context.Background()

	assert.True(t, s.HandleKey(ctx, "b"))
	assert.Len(t, s.Bookmarks(), 1)

	assert.True(t, s.HandleKey(ctx, "t"))
	assert.True(t, s.HandleKey(ctx, "s"))
	assert.Equal(t, []Panel{PanelSearch, PanelTOC}, s.OpenPanels())

	assert.True(t, s.HandleKey(ctx, "t"))
	assert.Equal(t, []Panel{PanelSearch}, s.OpenPanels())

	assert.True(t, s.HandleKey(ctx, "c"))
	assert.Equal(t, []Panel{PanelSearch, PanelSettings}, s.OpenPanels())

	assert.True(t, s.HandleKey(ctx, KeyEscape))
	assert.Empty(t, s.OpenPanels())
}

func TestHandleKey_Unbound(t *testing.T) {
	s := newTestSession(t, newTestEnv(t).deps())
	ctx := context.Background()

	for _, key := range []string{"x", "B", "ArrowUp", "Enter", ""} {
		assert.False(t, s.HandleKey(ctx, key), key)
	}
	// Bound keys are accepted even before a book is open.
	assert.True(t, s.HandleKey(ctx, "b"))
	assert.Empty(t, s.Bookmarks())
}

func TestTogglePanel(t *testing.T) {
	s := newTestSession(t, newTestEnv(t).deps())

	assert.True(t, s.TogglePanel(PanelSettings))
	assert.False(t, s.TogglePanel(PanelSettings))
	assert.Empty(t, s.OpenPanels())
}
