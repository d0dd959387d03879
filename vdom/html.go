package vdom

import (
	"bytes"
	"fmt"
	"io"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// RenderHTML serializes n as HTML. Fragments contribute only their children.
func RenderHTML(w io.Writer, n *Node) error {
	if n == nil {
		return nil
	}
	nodes, err := toHTML(n)
	if err != nil {
		return err
	}
	for _, hn := range nodes {
		if err := html.Render(w, hn); err != nil {
			return fmt.Errorf("render html: %w", err)
		}
	}
	return nil
}

// HTML is RenderHTML into a string.
func HTML(n *Node) (string, error) {
	var buf bytes.Buffer
	if err := RenderHTML(&buf, n); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func toHTML(n *Node) ([]*html.Node, error) {
	switch n.Type {
	case TextNode:
		return []*html.Node{{Type: html.TextNode, Data: n.Text}}, nil
	case FragmentNode:
		var out []*html.Node
		for _, c := range n.Children {
			hs, err := toHTML(c)
			if err != nil {
				return nil, err
			}
			out = append(out, hs...)
		}
		return out, nil
	case ElementNode:
		if !ValidTag(n.Tag) {
			return nil, fmt.Errorf("invalid element tag %q", n.Tag)
		}
		el := &html.Node{
			Type:     html.ElementNode,
			Data:     n.Tag,
			DataAtom: atom.Lookup([]byte(n.Tag)),
		}
		for _, k := range sortedKeys(n.Attrs) {
			el.Attr = append(el.Attr, html.Attribute{Key: k, Val: n.Attrs[k]})
		}
		for _, c := range n.Children {
			hs, err := toHTML(c)
			if err != nil {
				return nil, err
			}
			for _, h := range hs {
				el.AppendChild(h)
			}
		}
		return []*html.Node{el}, nil
	default:
		return nil, fmt.Errorf("unknown node type %q", n.Type)
	}
}

// Sanitizer strips markup that must never reach the documentation page
// (scripts, inline handlers, javascript: URLs) from rendered HTML.
type Sanitizer struct {
	policy *bluemonday.Policy
}

// NewSanitizer returns a sanitizer based on the UGC policy that also keeps
// class, style, role, aria and data attributes used by component styling.
func NewSanitizer() *Sanitizer {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class", "role", "id").Globally()
	p.AllowStyling()
	p.AllowStyles(
		"color", "background-color", "border", "border-radius", "margin", "margin-top", "margin-bottom",
		"padding", "gap", "display", "flex-direction", "align-items", "justify-content", "font-size",
		"font-weight", "width", "height", "opacity",
	).Globally()
	p.AllowDataAttributes()
	p.AllowAttrs("aria-label", "aria-hidden", "aria-expanded", "aria-controls", "aria-describedby").Globally()
	p.AllowAttrs("type", "disabled", "value", "name", "placeholder", "checked").OnElements("button", "input", "select", "option", "textarea")
	p.AllowElements("button", "input", "select", "option", "textarea", "label", "section", "article", "header", "footer", "nav", "main", "aside")
	p.AllowAttrs("for").OnElements("label")
	return &Sanitizer{policy: p}
}

func (s *Sanitizer) Sanitize(raw string) string {
	return s.policy.Sanitize(raw)
}

// SafeHTML renders n and sanitizes the result.
func (s *Sanitizer) SafeHTML(n *Node) (string, error) {
	raw, err := HTML(n)
	if err != nil {
		return "", err
	}
	return s.Sanitize(raw), nil
}
