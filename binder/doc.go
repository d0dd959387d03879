// Package binder is the static half of the sandbox: it turns component
// source plus a capability registry into import-free source and the map of
// values to inject.
//
// Import declarations are the only way source names a capability. Bind
// parses the file with the tree-sitter TSX grammar, removes every top-level
// import declaration and resolves each specifier against the registry:
//
//	import { Button as B } from "@docs/ui"  // B -> registry["@docs/ui"]["Button"]
//	import Chart from "@docs/chart"         // Chart -> registry["@docs/chart"]["default"]
//	import type { Props } from "@docs/ui"   // dropped, binds nothing
//	import * as UI from "@docs/ui"          // DisallowedImportForm
//
// Violations are aggregated so one pass reports every problem in a file.
// Re-exports (`export { x } from "m"`) and dynamic `import()` are left in
// place; they compile to loader calls that the executor rejects.
package binder
