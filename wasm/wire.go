package wasm

import (
	"fmt"

	"github.com/caffeineduck/jsxbox/capability"
	"github.com/caffeineduck/jsxbox/vdom"
)

// wireNode is the prelude's encoding of a rendered node.
//
//	{"k":"t","v":"text"}
//	{"k":"el","t":"div","p":{...},"c":[...]}
//	{"k":"in","n":"Button","p":{...},"c":[...]}
type wireNode struct {
	Kind     string         `json:"k"`
	Tag      string         `json:"t,omitempty"`
	Name     string         `json:"n,omitempty"`
	Value    string         `json:"v,omitempty"`
	Props    map[string]any `json:"p,omitempty"`
	Children []wireNode     `json:"c,omitempty"`
}

func decodeTree(nodes []wireNode, injections capability.InjectionMap) (*vdom.Node, error) {
	children, err := decodeNodes(nodes, injections)
	if err != nil {
		return nil, err
	}
	return vdom.Root(children), nil
}

func decodeNodes(nodes []wireNode, injections capability.InjectionMap) ([]*vdom.Node, error) {
	out := make([]*vdom.Node, 0, len(nodes))
	for _, w := range nodes {
		n, err := decodeNode(w, injections)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func decodeNode(w wireNode, injections capability.InjectionMap) (*vdom.Node, error) {
	switch w.Kind {
	case "t":
		return vdom.Text(w.Value), nil
	case "el":
		children, err := decodeNodes(w.Children, injections)
		if err != nil {
			return nil, err
		}
		return vdom.Element(w.Tag, vdom.AttrsFromProps(w.Props), children...)
	case "in":
		in, ok := intrinsicFor(injections[w.Name])
		if !ok {
			return nil, fmt.Errorf("%q is not an intrinsic", w.Name)
		}
		children, err := decodeNodes(w.Children, injections)
		if err != nil {
			return nil, err
		}
		return in.Element(w.Props, children)
	default:
		return nil, fmt.Errorf("unknown node kind %q", w.Kind)
	}
}

func intrinsicFor(v any) (vdom.Intrinsic, bool) {
	switch in := v.(type) {
	case vdom.Intrinsic:
		return in, true
	case *vdom.Intrinsic:
		return *in, true
	}
	return vdom.Intrinsic{}, false
}

// capSpec is how one injection is described to the prelude.
type capSpec struct {
	Kind  string `json:"k"`
	Tag   string `json:"tag,omitempty"`
	Value any    `json:"v"`
}

type bootConfig struct {
	Body     string             `json:"body"`
	Props    map[string]any     `json:"props"`
	Caps     map[string]capSpec `json:"caps"`
	MaxDepth int                `json:"maxDepth"`
	MaxNodes int                `json:"maxNodes"`
}

func capSpecs(injections capability.InjectionMap) map[string]capSpec {
	specs := make(map[string]capSpec, len(injections))
	for name, v := range injections {
		if _, ok := v.(capability.Func); ok {
			specs[name] = capSpec{Kind: "fn"}
			continue
		}
		if in, ok := intrinsicFor(v); ok {
			specs[name] = capSpec{Kind: "in", Tag: in.Tag}
			continue
		}
		specs[name] = capSpec{Kind: "val", Value: v}
	}
	return specs
}
