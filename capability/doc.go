// Package capability defines what untrusted component source may import.
//
// A [Registry] is an immutable table of (module specifier, export name)
// pairs mapped to values the host is willing to hand to a component. The
// binder consults it when it resolves import declarations; nothing outside
// the registry is reachable from sandboxed code.
//
// # Values
//
// A capability value is one of:
//   - a [Func], called from the sandbox with a single object argument
//   - a [vdom.Intrinsic], a host-rendered element such as a styled button
//   - plain data (strings, numbers, maps, slices)
//
// # Building a registry
//
//	reg, err := capability.NewBuilder().
//	    Register("@docs/ui", "Button", vdom.Intrinsic{Tag: "button", Attrs: map[string]string{"class": "ui-button"}}).
//	    Module("@docs/data", capability.NewKV(capability.DefaultKVConfig()).Module()).
//	    Build()
//
// or from a YAML manifest with [LoadManifest].
//
// # Built-in capabilities
//
// HTTP: outbound requests to an allowlist of hosts via [HTTP].
//
// Key-Value Store: in-memory example data via [KV].
//
// Format: locale-aware number formatting via [Format].
//
// Every built-in enforces size limits so a component cannot exhaust host
// resources through a granted capability.
package capability
