package web

import (
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Page is the readable content of an HTML document.
type Page struct {
	Title string
	Text  string
}

func (p Page) String() string {
	if p.Title == "" {
		return p.Text
	}
	return "Title: " + p.Title + "\n\n" + p.Text
}

// skipped elements never contribute text.
var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Svg:      true,
	atom.Iframe:   true,
}

var blocks = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Section: true, atom.Article: true, atom.Header: true, atom.Footer: true,
	atom.Table: true, atom.Ul: true, atom.Ol: true, atom.Pre: true, atom.Blockquote: true,
}

// ExtractText tokenizes HTML and collects visible text, one block per line.
func ExtractText(r io.Reader) Page {
	z := html.NewTokenizer(r)
	var (
		page    Page
		lines   []string
		current strings.Builder
		depth   int // inside skipped elements
		inTitle bool
	)
	flush := func() {
		line := strings.Join(strings.Fields(current.String()), " ")
		if line != "" {
			lines = append(lines, line)
		}
		current.Reset()
	}

	for {
		switch z.Next() {
		case html.ErrorToken:
			flush()
			page.Text = strings.Join(lines, "\n")
			return page
		case html.StartTagToken, html.SelfClosingTagToken:
			tt := z.Token()
			a := tt.DataAtom
			if a == atom.Title && tt.Type == html.StartTagToken {
				inTitle = true
				continue
			}
			if skipped[a] {
				if tt.Type == html.StartTagToken {
					depth++
				}
				continue
			}
			if blocks[a] {
				flush()
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			a := atom.Lookup(name)
			if a == atom.Title {
				inTitle = false
				continue
			}
			if skipped[a] {
				if depth > 0 {
					depth--
				}
				continue
			}
			if blocks[a] {
				flush()
			}
		case html.TextToken:
			text := string(z.Text())
			if inTitle {
				if page.Title == "" {
					page.Title = strings.Join(strings.Fields(text), " ")
				}
				continue
			}
			if depth > 0 {
				continue
			}
			current.WriteString(text)
			current.WriteString(" ")
		}
	}
}
