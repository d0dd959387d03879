package vdom

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// NodeType distinguishes the kinds of Node.
type NodeType string

const (
	ElementNode  NodeType = "element"
	TextNode     NodeType = "text"
	FragmentNode NodeType = "fragment"
)

// Node is one node of a rendered component tree.
type Node struct {
	Type     NodeType          `json:"type"`
	Tag      string            `json:"tag,omitempty"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Text     string            `json:"text,omitempty"`
	Children []*Node           `json:"children,omitempty"`
}

var tagPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9-]*$`)

// ValidTag reports whether tag is acceptable as an element name.
func ValidTag(tag string) bool {
	return tagPattern.MatchString(tag)
}

// Element builds an element node. It fails on tag names that could not be
// serialized as HTML.
func Element(tag string, attrs map[string]string, children ...*Node) (*Node, error) {
	if !ValidTag(tag) {
		return nil, fmt.Errorf("invalid element tag %q", tag)
	}
	return &Node{
		Type:     ElementNode,
		Tag:      strings.ToLower(tag),
		Attrs:    attrs,
		Children: children,
	}, nil
}

func Text(s string) *Node {
	return &Node{Type: TextNode, Text: s}
}

func Fragment(children ...*Node) *Node {
	return &Node{Type: FragmentNode, Children: children}
}

// Root wraps a rendered child list in a single node. A single element is
// returned unchanged.
func Root(children []*Node) *Node {
	if len(children) == 1 {
		return children[0]
	}
	return Fragment(children...)
}

// Intrinsic is a host-provided primitive that sandboxed code may use as a JSX
// element type. Rendering <Button variant="x">hi</Button> with
// Intrinsic{Tag: "button", Attrs: {"class": "ui-button"}} yields a <button>
// whose class list starts with the intrinsic's classes.
type Intrinsic struct {
	Tag   string            `json:"tag"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// Element renders the intrinsic with caller props and already rendered
// children.
func (in Intrinsic) Element(props map[string]any, children []*Node) (*Node, error) {
	attrs := make(map[string]string, len(in.Attrs))
	for k, v := range in.Attrs {
		attrs[k] = v
	}
	for k, v := range AttrsFromProps(props) {
		if k == "class" && attrs["class"] != "" {
			attrs["class"] = attrs["class"] + " " + v
			continue
		}
		attrs[k] = v
	}
	return Element(in.Tag, attrs, children...)
}

// Walk visits n and its descendants depth first.
func Walk(n *Node, fn func(*Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range n.Children {
		Walk(c, fn)
	}
}

// TextContent concatenates every text node below n.
func TextContent(n *Node) string {
	var b strings.Builder
	Walk(n, func(c *Node) bool {
		if c.Type == TextNode {
			b.WriteString(c.Text)
		}
		return true
	})
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
