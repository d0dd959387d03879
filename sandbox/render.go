package sandbox

import (
	"fmt"
	"strconv"

	"github.com/dop251/goja"

	"github.com/caffeineduck/jsxbox/failure"
	"github.com/caffeineduck/jsxbox/vdom"
)

const maxNodes = 50000

// element is what jsx() returns. The JS side sees {type, props, key};
// the walker trusts only objects it created itself.
type element struct {
	typ   goja.Value
	props *goja.Object
}

func (a *attempt) newJSXRuntime() *goja.Object {
	a.fragment = goja.NewSymbol("jsxbox.fragment")

	create := func(call goja.FunctionCall) goja.Value {
		props, ok := call.Argument(1).(*goja.Object)
		if !ok {
			props = a.vm.NewObject()
		}
		obj := a.vm.NewObject()
		obj.Set("type", call.Argument(0))
		obj.Set("props", props)
		obj.Set("key", call.Argument(2))
		a.elements[obj] = &element{typ: call.Argument(0), props: props}
		return obj
	}

	rt := a.vm.NewObject()
	rt.Set("jsx", create)
	rt.Set("jsxs", create)
	rt.Set("jsxDEV", create)
	rt.Set("Fragment", a.fragment)
	return rt
}

// render calls the component with props and converts what it returns.
func (a *attempt) render(component goja.Value, props map[string]any) (*vdom.Node, error) {
	a.nodes = 0
	p := a.vm.NewObject()
	for k, v := range props {
		p.Set(k, v)
	}
	out, err := a.call(component, p, 0)
	if err != nil {
		return nil, err
	}
	if err := a.loadViolation(); err != nil {
		return nil, err
	}
	return vdom.Root(out), nil
}

func (a *attempt) call(component goja.Value, props *goja.Object, depth int) ([]*vdom.Node, error) {
	fn, ok := goja.AssertFunction(component)
	if !ok {
		return nil, failure.RuntimeError("component is not a function")
	}
	out, err := fn(goja.Undefined(), props)
	if err != nil {
		return nil, a.classify(err)
	}
	return a.convert(out, depth+1)
}

func (a *attempt) convert(v goja.Value, depth int) ([]*vdom.Node, error) {
	if depth > a.engine.maxDepth {
		return nil, failure.RuntimeError(fmt.Sprintf("component tree exceeds maximum depth of %d", a.engine.maxDepth))
	}
	if a.nodes++; a.nodes > maxNodes {
		return nil, failure.RuntimeError(fmt.Sprintf("component tree exceeds %d nodes", maxNodes))
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}

	if obj, ok := v.(*goja.Object); ok {
		if el, ok := a.elements[obj]; ok {
			return a.element(el, depth)
		}
		if obj.ClassName() == "Array" {
			return a.convertArray(obj, depth)
		}
		if n, ok := obj.Export().(*vdom.Node); ok {
			return []*vdom.Node{n}, nil
		}
		return nil, failure.RuntimeError("objects are not valid as a component child")
	}

	switch x := v.Export().(type) {
	case bool:
		return nil, nil
	case string:
		return []*vdom.Node{vdom.Text(x)}, nil
	case int64, float64:
		return []*vdom.Node{vdom.Text(v.String())}, nil
	}
	return nil, failure.RuntimeError(fmt.Sprintf("unsupported component child %s", v.String()))
}

func (a *attempt) convertArray(arr *goja.Object, depth int) ([]*vdom.Node, error) {
	n := arr.Get("length").ToInteger()
	if n > maxNodes {
		return nil, failure.RuntimeError(fmt.Sprintf("component tree exceeds %d nodes", maxNodes))
	}
	var out []*vdom.Node
	for i := int64(0); i < n; i++ {
		nodes, err := a.convert(arr.Get(strconv.FormatInt(i, 10)), depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, nodes...)
	}
	return out, nil
}

func (a *attempt) element(el *element, depth int) ([]*vdom.Node, error) {
	if sym, ok := el.typ.(*goja.Symbol); ok && sym == a.fragment {
		return a.convert(el.props.Get("children"), depth+1)
	}
	if _, ok := goja.AssertFunction(el.typ); ok {
		return a.call(el.typ, el.props, depth)
	}

	children, err := a.convert(el.props.Get("children"), depth+1)
	if err != nil {
		return nil, err
	}
	props := a.propsMap(el.props)

	var node *vdom.Node
	switch {
	case a.isIntrinsic(el.typ):
		node, err = a.intrinsics[el.typ.(*goja.Object)].Element(props, children)
	case isString(el.typ):
		node, err = vdom.Element(el.typ.String(), vdom.AttrsFromProps(props), children...)
	default:
		return nil, failure.RuntimeError(fmt.Sprintf("element type %s is not a component", el.typ.String()))
	}
	if err != nil {
		return nil, failure.RuntimeError(err.Error())
	}
	return []*vdom.Node{node}, nil
}

func (a *attempt) isIntrinsic(v goja.Value) bool {
	obj, ok := v.(*goja.Object)
	if !ok {
		return false
	}
	_, ok = a.intrinsics[obj]
	return ok
}

func isString(v goja.Value) bool {
	if v == nil {
		return false
	}
	_, ok := v.Export().(string)
	return ok
}

func (a *attempt) propsMap(props *goja.Object) map[string]any {
	m := make(map[string]any)
	for _, k := range props.Keys() {
		if k == "children" {
			continue
		}
		m[k] = props.Get(k).Export()
	}
	return m
}
