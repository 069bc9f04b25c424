// ABOUTME: Cleans assistant output for display: strips citation markers and reflows markdown lists
// ABOUTME: Pure text transforms; fenced code blocks pass through untouched

package normalize

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/bibeksah/NRAI-Kancha-v1/internal/apperr"
)

// maxPasses bounds the fixed-point iteration. Real input settles in two passes.
const maxPasses = 8

var (
	// citationRe matches a citation marker with the horizontal whitespace before it:
	// 【6:0†source】, 【35†source】, [doc1], [3], [3:1].
	citationRe = regexp.MustCompile(`([ \t]*)(?:【\d+(?::\d+)?†[^】\n]*】|\[doc\d+\]|\[\d+(?::\d+)?\])`)

	// spaceRunRe matches two or more spaces/tabs after a visible character.
	// Leading indentation is left alone so nested lists survive.
	spaceRunRe = regexp.MustCompile(`(\S)[ \t]{2,}`)

	// inlineListRe matches a list marker that follows sentence punctuation on the same line.
	inlineListRe = regexp.MustCompile(`([.:;!?])[ \t]+(\d+\.|[-*])[ \t]+`)

	// newlineListRe matches a top-level list marker separated from the previous text by one newline.
	newlineListRe = regexp.MustCompile(`([^\n])\n(\d+\.[ \t]|[-*][ \t])`)

	trailingSpaceRe = regexp.MustCompile(`[ \t]+(\n|$)`)
	blankRunRe      = regexp.MustCompile(`\n{3,}`)
)

// Normalize strips citation markers and reflows markdown so that lists render
// as lists. It is idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(raw string) (string, error) {
	text := strings.ReplaceAll(raw, "\r\n", "\n")

	for i := 0; i < maxPasses; i++ {
		next := pass(text)
		if next == text {
			return text, nil
		}
		text = next
	}
	return "", apperr.New(apperr.KindNormalization, "normalize message", "text did not settle")
}

func pass(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, seg := range splitFences(text) {
		if seg.code {
			b.WriteString(seg.text)
			continue
		}
		b.WriteString(reflow(StripCitations(seg.text)))
	}
	return strings.TrimSpace(b.String())
}

// StripCitations removes citation markers. Whitespace before a marker goes with
// it unless the marker is glued to the following word, in which case a single
// space keeps the words apart.
func StripCitations(text string) string {
	matches := citationRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return collapseSpaces(text)
	}

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		lead := text[m[2]:m[3]]
		b.WriteString(text[last:start])
		if lead != "" && gluedToWord(text, end) {
			b.WriteByte(' ')
		}
		last = end
	}
	b.WriteString(text[last:])
	return collapseSpaces(b.String())
}

func gluedToWord(text string, i int) bool {
	if i >= len(text) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !unicode.IsSpace(r) && !unicode.IsPunct(r)
}

func collapseSpaces(text string) string {
	return spaceRunRe.ReplaceAllString(text, "$1 ")
}

func reflow(text string) string {
	text = inlineListRe.ReplaceAllString(text, "$1\n\n$2 ")
	text = newlineListRe.ReplaceAllString(text, "$1\n\n$2")
	text = trailingSpaceRe.ReplaceAllString(text, "$1")
	return blankRunRe.ReplaceAllString(text, "\n\n")
}

type segment struct {
	text string
	code bool
}

// splitFences cuts text into prose and fenced-code segments. Fence lines
// belong to the code segment; an unterminated fence runs to the end.
func splitFences(text string) []segment {
	var (
		segs  []segment
		cur   strings.Builder
		fence string
	)
	flush := func(code bool) {
		if cur.Len() > 0 {
			segs = append(segs, segment{text: cur.String(), code: code})
			cur.Reset()
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		marker := fenceMarker(line)
		switch {
		case fence == "" && marker != "":
			flush(false)
			fence = marker
			cur.WriteString(line)
		case fence != "" && marker != "" && strings.HasPrefix(marker, fence):
			cur.WriteString(line)
			flush(true)
			fence = ""
		default:
			cur.WriteString(line)
		}
	}
	flush(fence != "")
	return segs
}

func fenceMarker(line string) string {
	trimmed := strings.TrimLeft(line, " ")
	if len(line)-len(trimmed) > 3 {
		return ""
	}
	for _, ch := range []string{"`", "~"} {
		n := 0
		for n < len(trimmed) && trimmed[n:n+1] == ch {
			n++
		}
		if n >= 3 {
			return trimmed[:n]
		}
	}
	return ""
}
