// Package render turns plain text into text whose known words link to
// their articles.
package render

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/cognicore/infiniwiki/pkg/infiniwiki/normalize"
)

// DefaultBasePath prefixes every article link.
const DefaultBasePath = "/article/"

// Lookup finds identifiers for registered names. It must never create
// entries.
type Lookup interface {
	LookupMany(ctx context.Context, names []string) (map[string]string, error)
}

// Renderer links whitespace-separated tokens to their articles.
type Renderer struct {
	lookup   Lookup
	basePath string
}

// New creates a renderer. An empty basePath means DefaultBasePath.
func New(lookup Lookup, basePath string) *Renderer {
	if basePath == "" {
		basePath = DefaultBasePath
	}
	if !strings.HasSuffix(basePath, "/") {
		basePath += "/"
	}
	return &Renderer{lookup: lookup, basePath: basePath}
}

// Render splits text on whitespace and joins the tokens back with single
// spaces. A token whose normalized form is registered is wrapped in a link
// carrying viewer; every other token is emitted unchanged.
func (r *Renderer) Render(ctx context.Context, text, viewer string) (string, error) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return "", nil
	}

	names := make([]string, len(tokens))
	for i, tok := range tokens {
		names[i] = normalize.Word(tok)
	}
	ids, err := r.lookup.LookupMany(ctx, names)
	if err != nil {
		return "", fmt.Errorf("render: %w", err)
	}

	var b strings.Builder
	for i, tok := range tokens {
		if i > 0 {
			b.WriteByte(' ')
		}
		id, ok := ids[names[i]]
		if names[i] == "" || !ok {
			b.WriteString(tok)
			continue
		}
		b.WriteString(`<a href="`)
		b.WriteString(r.Href(id, viewer))
		b.WriteString(`">`)
		b.WriteString(tok)
		b.WriteString(`</a>`)
	}
	return b.String(), nil
}

// Href is the link target for an article seen by viewer.
func (r *Renderer) Href(id, viewer string) string {
	href := r.basePath + url.PathEscape(id)
	if viewer != "" {
		href += "?viewer=" + url.QueryEscape(viewer)
	}
	return href
}
