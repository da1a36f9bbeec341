package service

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
)

// Renderer turns campaign content (a structured block document) into the
// final HTML body. Rendering happens once, at schedule time; dispatch only
// personalizes the stored HTML. The hosted renderer sits behind this same
// interface.
type Renderer interface {
	Render(content string) (string, error)
}

// BlockRenderer renders the block-document JSON used by the campaign editor.
// It is the renderer used in development and tests.
type BlockRenderer struct{}

type blockDocument struct {
	Blocks []block `json:"blocks"`
}

type block struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Label string `json:"label,omitempty"`
	URL   string `json:"url,omitempty"`
	Src   string `json:"src,omitempty"`
	Alt   string `json:"alt,omitempty"`
}

func (BlockRenderer) Render(content string) (string, error) {
	var doc blockDocument
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return "", fmt.Errorf("content is not a valid block document: %w", err)
	}
	if len(doc.Blocks) == 0 {
		return "", fmt.Errorf("content has no blocks")
	}

	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html><body style="margin:0;padding:24px;font-family:sans-serif">`)
	for i, blk := range doc.Blocks {
		switch blk.Type {
		case "heading":
			b.WriteString("<h1>" + html.EscapeString(blk.Text) + "</h1>")
		case "text":
			// EscapeString leaves braces alone, so {{variable}} placeholders
			// survive for per-recipient substitution at dispatch time.
			b.WriteString("<p>" + html.EscapeString(blk.Text) + "</p>")
		case "button":
			if blk.URL == "" {
				return "", fmt.Errorf("button block %d has no url", i)
			}
			b.WriteString(fmt.Sprintf(`<a href="%s" style="display:inline-block;padding:10px 18px;background:#111;color:#fff;text-decoration:none;border-radius:4px">%s</a>`,
				html.EscapeString(blk.URL), html.EscapeString(blk.Label)))
		case "image":
			if blk.Src == "" {
				return "", fmt.Errorf("image block %d has no src", i)
			}
			b.WriteString(fmt.Sprintf(`<img src="%s" alt="%s" style="max-width:100%%">`,
				html.EscapeString(blk.Src), html.EscapeString(blk.Alt)))
		case "divider":
			b.WriteString("<hr>")
		default:
			return "", fmt.Errorf("unknown block type %q", blk.Type)
		}
	}
	b.WriteString("</body></html>")
	return b.String(), nil
}

var _ Renderer = BlockRenderer{}
