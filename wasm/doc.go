// Package wasm is an executor.Executor that runs components in QuickJS
// compiled to WASI, hosted by wazero.
//
// Every Execute and every Render instantiates the interpreter afresh from
// a compiled module shared by the Engine. A prelude script, evaluated
// before the component body, removes the interpreter's std and os
// bindings, installs console and the injected capabilities, and reports
// back to the host over stderr frames:
//
//	\x00JSXBOX:{"op":"cap","fn":"greet","args":{...}}\x00
//
// Frames that expect an answer (cap, load) are answered with one JSON
// line on stdin. The instance's memory is capped with WithMemoryLimit and
// the deadline is enforced by closing the module when its context ends.
package wasm
