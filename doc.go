// Package jsxbox renders untrusted TSX documentation components in a
// sandbox.
//
// # Overview
//
// A component may only import what a capability registry grants. Imports
// are resolved before anything runs; namespace imports and ungranted
// modules or exports fail the render. The sanitized source is compiled with
// esbuild and executed in a fresh engine under a wall-clock deadline. The
// default export is rendered to a [vdom.Node] tree.
//
// # Basic Usage
//
//	reg := capability.MustNew(map[string]capability.Module{
//	    "@docs/ui": {"Button": vdom.Intrinsic{Tag: "button"}},
//	})
//	r := pipeline.New(reg, sandbox.New())
//
//	comp, err := r.Render(ctx, `
//	    import { Button } from "@docs/ui";
//	    export default ({ label }) => <Button>{label}</Button>;
//	`, executor.WithProps(map[string]any{"label": "Save"}))
//	if err != nil {
//	    for _, f := range failure.All(err) {
//	        fmt.Println(f.Kind, f.Module, f.Export)
//	    }
//	    return
//	}
//	defer comp.Close()
//	html, _ := vdom.HTML(comp.Tree())
//
// # Engines
//
// [sandbox] runs components in goja with dangerous globals removed.
// [wasm] runs them in QuickJS compiled to WebAssembly through wazero, one
// module instance per execution.
//
// See the [pipeline], [binder], [capability], [executor] and [failure]
// packages for detailed API documentation.
package jsxbox
