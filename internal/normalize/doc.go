// Package normalize turns raw assistant text into display-ready markdown.
//
// Two transforms run outside fenced code blocks:
//
//   - Citation stripping removes retrieval markers such as 【6:0†source】,
//     [doc1], [3] and [3:1] together with the spaces that led up to them.
//   - Reflow puts a blank line in front of list markers ("2. ", "- ", "* ")
//     that arrived glued to the end of a sentence or separated by a single
//     newline, strips trailing whitespace and collapses runs of blank lines.
//
// The pair is applied until the text stops changing, which makes Normalize
// idempotent.
package normalize
