// Package htmltext converts HTML email bodies into the markdown text the chat
// system renders.
package htmltext

import (
	"regexp"
	"strings"

	"email-mirror-gateway/internal/logging"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	spaceRe    = regexp.MustCompile(`[ \t\r\n\f]+`)
	blankRunRe = regexp.MustCompile(`\n{3,}`)
)

// Convert renders an HTML document or fragment as markdown. Markdown
// characters in the text are escaped and nested lists keep their indentation.
// If the HTML cannot be converted, its visible text is returned instead.
func Convert(src string) string {
	md, err := htmltomarkdown.ConvertString(src)
	if err != nil {
		logging.Log.Warnf("Error converting HTML body to markdown: %v", err)
		return fallback(src)
	}
	return blankRunRe.ReplaceAllString(strings.TrimSpace(md), "\n\n")
}

func fallback(src string) string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return strings.TrimSpace(src)
	}
	return Text(doc)
}

// Text returns the visible text of an HTML node tree, whitespace collapsed.
func Text(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipped(n) {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(spaceRe.ReplaceAllString(sb.String(), " "))
}

func skipped(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Head, atom.Title, atom.Template:
		return true
	}
	return false
}
