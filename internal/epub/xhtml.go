package epub

import (
	"regexp"
	"strings"
)

// selfClosingTagPattern matches an XML empty-element tag such as <title/> or
// <script src="a.js"/>.
var selfClosingTagPattern = regexp.MustCompile(`<([A-Za-z][A-Za-z0-9:._-]*)(\s[^<>]*?)?\s*/>`)

// voidElements never have content in HTML, so their self-closing form
// already parses correctly.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

// ExpandSelfClosing rewrites empty-element tags of non-void elements as
// start/end pairs. The HTML parser ignores the trailing slash, so an XHTML
// <title/> or <script/> would otherwise swallow the rest of the document.
func ExpandSelfClosing(markup string) string {
	if !strings.Contains(markup, "/>") {
		return markup
	}
	return selfClosingTagPattern.ReplaceAllStringFunc(markup, func(tag string) string {
		m := selfClosingTagPattern.FindStringSubmatch(tag)
		name := m[1]
		local := strings.ToLower(name)
		if i := strings.LastIndexByte(local, ':'); i >= 0 {
			local = local[i+1:]
		}
		if voidElements[local] {
			return tag
		}
		return "<" + name + m[2] + "></" + name + ">"
	})
}
