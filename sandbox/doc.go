// Package sandbox is the in-process engine: it runs component bodies in
// goja, creating a new runtime for every Execute call.
//
// A runtime starts with the standard ECMAScript built-ins minus eval and
// the function constructors, plus exactly two additions: console, and one
// global per injected capability. The body receives exports, module and a
// require that only resolves the JSX runtime.
//
// goja is interruptible between instructions, so a busy loop stops when the
// deadline fires. Code blocked inside a Go capability is not; its goroutine
// is abandoned after a short grace period and the runtime is never used
// again.
package sandbox
