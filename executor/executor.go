package executor

import (
	"context"
	"time"

	"github.com/caffeineduck/jsxbox/capability"
	"github.com/caffeineduck/jsxbox/vdom"
)

// Executor runs a compiled component body in a fresh isolated context.
//
// Execute returns a Component only when the body ran to completion within
// the deadline, its default export is callable and the initial render
// succeeded. Every failure is a *failure.Error.
type Executor interface {
	Execute(ctx context.Context, body string, injections capability.InjectionMap, opts ...Option) (Component, error)
}

// Component is a validated, rendered component. Render re-invokes the
// default export with new props under the same deadline the component was
// created with.
type Component interface {
	// Tree is the result of the initial render.
	Tree() *vdom.Node
	Render(ctx context.Context, props map[string]any) (*vdom.Node, error)
	// Exports lists the own enumerable keys of the module exports.
	Exports() []string
	// Logs returns console output captured so far.
	Logs() []LogEntry
	Close() error
}

// State is the lifecycle position of a render attempt. Every attempt moves
// forward through Created, Compiling and Executing and ends in exactly one
// terminal state.
type State int

const (
	StateCreated State = iota
	StateCompiling
	StateExecuting
	StateCompleted
	StateTimedOut
	StateFailed
)

var stateNames = [...]string{"created", "compiling", "executing", "completed", "timed_out", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether s ends an attempt.
func (s State) Terminal() bool {
	return s >= StateCompleted
}

// LogEntry is one captured console call.
type LogEntry struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// LoadableModules is the fixed set of arguments the in-sandbox require
// accepts: the runtime modules compiled JSX depends on. It is independent
// of the capability registry.
var LoadableModules = []string{
	"react/jsx-runtime",
	"react/jsx-dev-runtime",
}

// Loadable reports whether require(id) is permitted inside the sandbox.
func Loadable(id string) bool {
	for _, m := range LoadableModules {
		if id == m {
			return true
		}
	}
	return false
}
