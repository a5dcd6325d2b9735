package render

import (
	"fmt"
	"html"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

// Markdown converts a rendered section to Markdown for terminal output.
func Markdown(doc Document) (string, error) {
	source := doc.Content
	if doc.Title != "" && !doc.Placeholder {
		source = fmt.Sprintf("<h1>%s</h1>%s", html.EscapeString(doc.Title), doc.Content)
	}
	md, err := htmltomarkdown.ConvertString(source)
	if err != nil {
		return "", fmt.Errorf("failed to convert section to markdown: %w", err)
	}
	return md, nil
}
