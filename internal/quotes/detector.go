// Package quotes removes quoted reply content from email bodies.
//
// The detector is a process-wide resource: call Init once at startup and pass
// the returned *Detector to the components that need it.
package quotes

import (
	"regexp"
	"strings"
	"sync"

	"email-mirror-gateway/internal/htmltext"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Messages longer than this are returned untouched.
const maxLines = 1000

var (
	once     sync.Once
	instance *Detector
)

// Detector strips trailing quoted replies from plain text and HTML bodies.
type Detector struct {
	splitters   []*regexp.Regexp
	onLineRe    *regexp.Regexp
	wroteLineRe *regexp.Regexp
	headerRe    *regexp.Regexp
	sentDateRe  *regexp.Regexp
}

// Init compiles the reply markers. It is safe to call more than once; every call returns the same Detector.
func Init() *Detector {
	once.Do(func() {
		instance = newDetector()
	})
	return instance
}

func newDetector() *Detector {
	return &Detector{
		splitters: []*regexp.Regexp{
			regexp.MustCompile(`(?i)^\s*-{2,}\s*original message\s*-{2,}\s*$`),
			regexp.MustCompile(`(?i)^\s*-{2,}\s*reply message\s*-{2,}\s*$`),
			regexp.MustCompile(`(?i)^\s*on\b.{1,250}\bwrote:?\s*$`),
			regexp.MustCompile(`(?i)^\s*le\b.{1,250}\ba écrit\s*:?\s*$`),
			regexp.MustCompile(`(?i)^\s*am\b.{1,250}\bschrieb\b.{0,100}:\s*$`),
			regexp.MustCompile(`(?i)^\s*el\b.{1,250}\bescribió:?\s*$`),
			regexp.MustCompile(`^\s*_{20,}\s*$`),
		},
		onLineRe:    regexp.MustCompile(`(?i)^\s*(on|le|am|el)\b`),
		wroteLineRe: regexp.MustCompile(`(?i)\b(wrote|a écrit|schrieb|escribió).{0,100}:\s*$`),
		headerRe:    regexp.MustCompile(`(?i)^\s*\*?(from|de|von)\s*:\*?\s+\S`),
		sentDateRe:  regexp.MustCompile(`(?i)^\s*\*?(sent|date|envoyé|gesendet|to)\s*:\*?\s`),
	}
}

// ExtractFromPlain returns text without its trailing quoted reply. Inline
// replies interleaved with quotes are kept. If nothing but a quote remains,
// the text is returned unchanged.
func (d *Detector) ExtractFromPlain(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	if len(lines) > maxLines {
		return text
	}

	cut := d.splitterLine(lines)
	if cut < 0 {
		cut = trailingQuoteStart(lines)
	}
	if cut < 0 {
		return text
	}

	stripped := strings.TrimRight(strings.Join(lines[:cut], "\n"), " \t\n")
	if strings.TrimSpace(stripped) == "" {
		return text
	}
	return stripped
}

// splitterLine returns the first line that introduces a reply, or -1.
func (d *Detector) splitterLine(lines []string) int {
	for i, line := range lines {
		if isQuoted(line) {
			continue
		}
		for _, re := range d.splitters {
			if re.MatchString(line) {
				return i
			}
		}
		// "On <date>, <name>" wrapped over two lines before "wrote:".
		if i+1 < len(lines) && d.onLineRe.MatchString(line) && d.wroteLineRe.MatchString(lines[i+1]) && len(line)+len(lines[i+1]) < 300 {
			return i
		}
		// Outlook style header block: From: followed by Sent:/Date:.
		if d.headerRe.MatchString(line) {
			for j := i + 1; j < len(lines) && j <= i+4; j++ {
				if d.sentDateRe.MatchString(lines[j]) {
					return i
				}
			}
		}
	}
	return -1
}

// trailingQuoteStart returns the start of a block of ">" lines that runs to the end of the text, or -1.
func trailingQuoteStart(lines []string) int {
	end := len(lines) - 1
	for end >= 0 && strings.TrimSpace(lines[end]) == "" {
		end--
	}
	if end < 0 || !isQuoted(lines[end]) {
		return -1
	}

	start := end
	for start > 0 && (isQuoted(lines[start-1]) || strings.TrimSpace(lines[start-1]) == "") {
		start--
	}
	return start
}

func isQuoted(line string) bool {
	return strings.HasPrefix(strings.TrimLeft(line, " \t"), ">")
}

// ExtractFromHTML removes the quoted reply containers used by common mail
// clients and returns the re-rendered document.
func (d *Detector) ExtractFromHTML(src string) string {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return src
	}

	var quotes []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && isQuoteContainer(n) {
			quotes = append(quotes, n)
			if isReplyHeader(n) {
				for s := n.NextSibling; s != nil; s = s.NextSibling {
					quotes = append(quotes, s)
				}
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if len(quotes) == 0 {
		return src
	}

	for _, n := range quotes {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}
	if htmltext.Text(doc) == "" {
		return src
	}

	var sb strings.Builder
	if err := html.Render(&sb, doc); err != nil {
		return src
	}
	return sb.String()
}

func isQuoteContainer(n *html.Node) bool {
	if n.DataAtom == atom.Blockquote && strings.EqualFold(attrValue(n, "type"), "cite") {
		return true
	}
	for _, class := range strings.Fields(attrValue(n, "class")) {
		switch class {
		case "gmail_quote", "gmail_extra", "moz-cite-prefix", "yahoo_quoted", "protonmail_quote":
			return true
		}
	}
	return isReplyHeader(n)
}

// Outlook marks the start of the quoted message; everything after it is the quote.
func isReplyHeader(n *html.Node) bool {
	switch attrValue(n, "id") {
	case "divRplyFwdMsg", "appendonsend":
		return true
	}
	return false
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
