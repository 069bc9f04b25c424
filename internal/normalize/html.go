// ABOUTME: Renders normalized message markdown to HTML for clients that do not render markdown
// ABOUTME: Raw HTML in assistant output is escaped, never passed through

package normalize

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

// RenderHTML converts markdown to HTML. goldmark omits raw HTML unless the
// unsafe renderer option is set, so script tags in model output never reach
// the page.
func RenderHTML(text string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return buf.String(), nil
}
