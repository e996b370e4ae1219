package discovery

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Sanitize cleans generated article markup: document wrappers, titles,
// scripts and styles are removed, links are replaced by their text, and
// h1 headings are demoted to h2. Markdown code fences around the markup
// are stripped.
func Sanitize(content string) string {
	content = stripFences(strings.TrimSpace(content))
	if content == "" {
		return ""
	}

	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(content), body)
	if err != nil {
		return content
	}

	var buf strings.Builder
	for _, n := range nodes {
		for _, kept := range clean(n) {
			if err := html.Render(&buf, kept); err != nil {
				return content
			}
		}
	}
	return strings.TrimSpace(buf.String())
}

// clean returns the nodes that replace n.
func clean(n *html.Node) []*html.Node {
	switch n.Type {
	case html.CommentNode, html.DoctypeNode:
		return nil
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Title, atom.Head, atom.Meta, atom.Link:
			return nil
		case atom.Html, atom.Body, atom.A:
			return cleanChildren(n)
		case atom.H1:
			n.DataAtom = atom.H2
			n.Data = "h2"
		}
	}

	for _, k := range cleanChildren(n) {
		n.AppendChild(k)
	}
	return []*html.Node{n}
}

// cleanChildren detaches n's children and returns their cleaned forms.
func cleanChildren(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		out = append(out, clean(c)...)
		c = next
	}
	return out
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		return ""
	}
	s = strings.TrimSpace(s)
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}
