// Package vdom holds the host-side representation of a rendered component:
// a small element tree that engines produce from the sandboxed element
// objects, and the HTML serialization the documentation surface consumes.
//
// Nodes never carry functions or engine values, so a tree outlives the
// sandbox context that produced it.
package vdom
