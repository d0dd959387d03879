// Package transform compiles TypeScript + JSX component source into a
// CommonJS function body.
//
// The emitted body expects three bindings, exports, module and require,
// and loads the automatic JSX runtime with require("react/jsx-runtime").
// Executors supply those bindings; see package executor.
package transform
