package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ketabkhaneh/epubreader/internal/settings"
)

// Stylesheet computes the document CSS from settings. It is a pure
// function of its argument; settings are clamped first.
func Stylesheet(s settings.ReaderSettings) string {
	s = s.Clamp()
	p := s.Palette()

	align := "right"
	if s.Justify {
		align = "justify"
	}
	hyphens := "manual"
	if s.Hyphenation {
		hyphens = "auto"
	}
	scheme := "light"
	if s.Theme == settings.ThemeDark || s.Theme == settings.ThemeNight {
		scheme = "dark"
	}

	var b strings.Builder
	fmt.Fprintf(&b, ":root{color-scheme:%s;}\n", scheme)
	fmt.Fprintf(&b, "html,body{margin:0;padding:0;background:%s;color:%s;}\n", p.Background, p.Text)
	fmt.Fprintf(&b, "body{font-family:%s;font-size:%dpx;line-height:%s;direction:rtl;text-align:%s;hyphens:%s;-webkit-hyphens:%s;overflow-wrap:break-word;}\n",
		s.FontStack(), s.FontSize, strconv.FormatFloat(s.LineHeight, 'f', -1, 64), align, hyphens, hyphens)
	fmt.Fprintf(&b, ".reader{max-width:%dpx;margin:0 auto;padding:%dpx;box-sizing:border-box;}\n", s.MaxWidth(), s.Margin)
	fmt.Fprintf(&b, ".chapter-header{color:%s;border-bottom:1px solid %s;margin-bottom:1.5em;}\n", p.Muted, p.Muted)
	b.WriteString(".chapter-title{font-size:1.1em;font-weight:600;margin:0 0 .5em;}\n")
	fmt.Fprintf(&b, "a{color:%s;}\n", p.Accent)
	fmt.Fprintf(&b, "blockquote{background:%s;border-inline-start:4px solid %s;margin:1em 0;padding:.5em 1em;}\n", p.Blockquote, p.Accent)
	b.WriteString("img,svg,video{max-width:100%;height:auto;}\n")
	b.WriteString("table{border-collapse:collapse;max-width:100%;}\n")
	fmt.Fprintf(&b, ".page-footer{color:%s;font-size:.85em;text-align:center;margin-top:2em;}\n", p.Muted)
	b.WriteString(".placeholder{text-align:center;padding:3em 0;}\n")
	b.WriteString(".placeholder-cover{max-width:200px;margin:0 auto 1.5em;display:block;}\n")
	fmt.Fprintf(&b, ".placeholder-title,.placeholder-author,.placeholder-note{color:%s;}\n", p.Muted)
	return b.String()
}
