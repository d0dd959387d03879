// Package executor defines the contract between the render pipeline and
// the engines that run untrusted component code.
//
// An engine receives a CommonJS body (see package transform) and the values
// the binder resolved for its imports. For every call it builds a brand new
// context containing only those values, a console, and a require function
// that accepts [LoadableModules] and nothing else. It then runs the body
// under a wall-clock deadline enforced by the host, checks that
// module.exports.default is callable and renders it once.
//
// # Engines
//
// Two engines implement [Executor]:
//   - package sandbox runs goja in process
//   - package wasm runs QuickJS inside a wazero instance
//
// # Basic Usage
//
//	comp, err := engine.Execute(ctx, body, injections,
//	    executor.WithTimeout(250*time.Millisecond),
//	    executor.WithLogger(logger),
//	)
//	if err != nil {
//	    // a *failure.Error: ExecutionTimeout, InvalidExportShape, ...
//	}
//	defer comp.Close()
//	html, _ := vdom.HTML(comp.Tree())
//
// The executortest package holds the behavior every engine must share.
package executor
