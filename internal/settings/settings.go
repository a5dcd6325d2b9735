// Package settings holds the reader's typography and theme preferences.
package settings

// Theme is a named colour palette.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
	ThemeSepia Theme = "sepia"
	ThemeNight Theme = "night"
)

// Width caps the content column.
type Width string

const (
	WidthNarrow   Width = "narrow"
	WidthStandard Width = "standard"
	WidthWide     Width = "wide"
)

// FontFamily is one of the bundled reading fonts.
type FontFamily string

const (
	FontVazirmatn FontFamily = "vazirmatn"
	FontSahel     FontFamily = "sahel"
	FontSamim     FontFamily = "samim"
	FontShabnam   FontFamily = "shabnam"
	FontNazanin   FontFamily = "nazanin"
	FontSystem    FontFamily = "system"
)

// Value ranges. Out-of-range values are coerced, never rejected.
const (
	MinFontSize   = 12
	MaxFontSize   = 32
	MinLineHeight = 1.2
	MaxLineHeight = 2.5
	MinMargin     = 20
	MaxMargin     = 80
)

// Palette is the colour set of a theme.
type Palette struct {
	Background string
	Text       string
	Accent     string
	Muted      string
	Blockquote string
}

var palettes = map[Theme]Palette{
	ThemeLight: {Background: "#ffffff", Text: "#000000", Accent: "#3b82f6", Muted: "#6b7280", Blockquote: "#f3f4f6"},
	ThemeDark:  {Background: "#1a1a1a", Text: "#e5e5e5", Accent: "#3b82f6", Muted: "#888", Blockquote: "#262626"},
	ThemeSepia: {Background: "#f4f1ea", Text: "#5c4b37", Accent: "#8b4513", Muted: "#8b7355", Blockquote: "#ebe4d6"},
	ThemeNight: {Background: "#0a0a0a", Text: "#d4d4d4", Accent: "#60a5fa", Muted: "#6b7280", Blockquote: "#171717"},
}

var widths = map[Width]int{
	WidthNarrow:   600,
	WidthStandard: 800,
	WidthWide:     1000,
}

var fontStacks = map[FontFamily]string{
	FontVazirmatn: `"Vazirmatn", "Tahoma", sans-serif`,
	FontSahel:     `"Sahel", "Tahoma", sans-serif`,
	FontSamim:     `"Samim", "Tahoma", sans-serif`,
	FontShabnam:   `"Shabnam", "Tahoma", sans-serif`,
	FontNazanin:   `"B Nazanin", "Times New Roman", serif`,
	FontSystem:    `system-ui, -apple-system, "Segoe UI", Tahoma, sans-serif`,
}

// ReaderSettings is the process-wide reading configuration.
type ReaderSettings struct {
	FontSize    int        `json:"fontSize"`
	FontFamily  FontFamily `json:"fontFamily"`
	Theme       Theme      `json:"theme"`
	LineHeight  float64    `json:"lineHeight"`
	Margin      int        `json:"margin"`
	Width       Width      `json:"width"`
	Justify     bool       `json:"justify"`
	Hyphenation bool       `json:"hyphenation"`
}

// Default returns the settings used before the user changes anything.
func Default() ReaderSettings {
	return ReaderSettings{
		FontSize:    18,
		FontFamily:  FontVazirmatn,
		Theme:       ThemeLight,
		LineHeight:  1.8,
		Margin:      40,
		Width:       WidthStandard,
		Justify:     true,
		Hyphenation: false,
	}
}

// Clamp returns a copy with every field coerced into its valid range.
func (s ReaderSettings) Clamp() ReaderSettings {
	s.FontSize = clamp(s.FontSize, MinFontSize, MaxFontSize)
	s.Margin = clamp(s.Margin, MinMargin, MaxMargin)
	s.LineHeight = clamp(s.LineHeight, MinLineHeight, MaxLineHeight)
	if _, ok := palettes[s.Theme]; !ok {
		s.Theme = ThemeLight
	}
	if _, ok := widths[s.Width]; !ok {
		s.Width = WidthStandard
	}
	if _, ok := fontStacks[s.FontFamily]; !ok {
		s.FontFamily = FontVazirmatn
	}
	return s
}

// Palette looks up the theme colours, falling back to light.
func (s ReaderSettings) Palette() Palette {
	if p, ok := palettes[s.Theme]; ok {
		return p
	}
	return palettes[ThemeLight]
}

// MaxWidth is the content column cap in pixels.
func (s ReaderSettings) MaxWidth() int {
	if w, ok := widths[s.Width]; ok {
		return w
	}
	return widths[WidthStandard]
}

// FontStack is the CSS font-family value for the chosen font.
func (s ReaderSettings) FontStack() string {
	if f, ok := fontStacks[s.FontFamily]; ok {
		return f
	}
	return fontStacks[FontVazirmatn]
}

func clamp[T int | float64](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
