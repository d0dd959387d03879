package wasm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/caffeineduck/jsxbox/capability"
	"github.com/caffeineduck/jsxbox/executor"
)

// Frames are written by the prelude to stderr.
// Format: \x00JSXBOX:{json}\x00
const (
	protocolPrefix = "\x00JSXBOX:"
	protocolSuffix = "\x00"
)

const maxStrayStderr = 64 << 10

type frame struct {
	Op string `json:"op"`

	// cap
	Fn   string         `json:"fn,omitempty"`
	Args map[string]any `json:"args,omitempty"`

	// load
	ID string `json:"id,omitempty"`

	// log
	Level string `json:"level,omitempty"`
	Msg   string `json:"msg,omitempty"`

	// exports
	Keys     []string `json:"keys,omitempty"`
	Callable bool     `json:"callable,omitempty"`

	// render
	Tree []wireNode `json:"tree,omitempty"`

	// fail
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message,omitempty"`
}

type callResponse struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// outcome is what one instance reported before it exited.
type outcome struct {
	compiled   bool
	disallowed string
	sawExports bool
	keys       []string
	callable   bool
	rendered   bool
	tree       []wireNode
	failStage  string
	failMsg    string
}

// bridge intercepts the instance's stderr. Frames trigger capability calls,
// module loads and result reports; anything else is kept as stray output.
type bridge struct {
	ctx         context.Context
	funcs       map[string]capability.Func
	console     *executor.Console
	stdinWriter *io.PipeWriter
	onCompiled  func()

	buf   bytes.Buffer
	stray bytes.Buffer
	out   outcome

	mu      sync.Mutex
	writeMu sync.Mutex
}

func newBridge(ctx context.Context, injections capability.InjectionMap, console *executor.Console, stdinWriter *io.PipeWriter, onCompiled func()) *bridge {
	funcs := make(map[string]capability.Func)
	for name, v := range injections {
		if fn, ok := v.(capability.Func); ok {
			funcs[name] = fn
		}
	}
	return &bridge{
		ctx:         ctx,
		funcs:       funcs,
		console:     console,
		stdinWriter: stdinWriter,
		onCompiled:  onCompiled,
	}
}

func (b *bridge) Write(data []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf.Write(data)

	for {
		content := b.buf.String()
		startIdx := strings.Index(content, protocolPrefix)
		if startIdx == -1 {
			keep := partialPrefix(content)
			b.keepStray(content[:len(content)-keep])
			b.buf.Reset()
			b.buf.WriteString(content[len(content)-keep:])
			break
		}

		b.keepStray(content[:startIdx])

		endIdx := strings.Index(content[startIdx+len(protocolPrefix):], protocolSuffix)
		if endIdx == -1 {
			b.buf.Reset()
			b.buf.WriteString(content[startIdx:])
			break
		}

		payload := content[startIdx+len(protocolPrefix) : startIdx+len(protocolPrefix)+endIdx]
		b.buf.Reset()
		b.buf.WriteString(content[startIdx+len(protocolPrefix)+endIdx+len(protocolSuffix):])

		var f frame
		if err := json.Unmarshal([]byte(payload), &f); err != nil {
			b.respond(callResponse{Error: "invalid frame"})
			continue
		}
		b.handle(f)
	}

	return len(data), nil
}

// partialPrefix is the length of the longest suffix of s that may be the
// start of a frame split across writes.
func partialPrefix(s string) int {
	for n := min(len(s), len(protocolPrefix)-1); n > 0; n-- {
		if strings.HasPrefix(protocolPrefix, s[len(s)-n:]) {
			return n
		}
	}
	return 0
}

func (b *bridge) keepStray(s string) {
	if s == "" || b.stray.Len() >= maxStrayStderr {
		return
	}
	if room := maxStrayStderr - b.stray.Len(); len(s) > room {
		s = s[:room]
	}
	b.stray.WriteString(s)
}

func (b *bridge) handle(f frame) {
	switch f.Op {
	case "cap":
		b.respond(b.call(f.Fn, f.Args))
	case "load":
		if executor.Loadable(f.ID) {
			b.respond(callResponse{Data: true})
			return
		}
		if b.out.disallowed == "" {
			b.out.disallowed = f.ID
		}
		b.respond(callResponse{Error: fmt.Sprintf("load of %q is not allowed", f.ID)})
	case "log":
		b.console.Log(f.Level, f.Msg)
	case "compiled":
		b.out.compiled = true
		if b.onCompiled != nil {
			b.onCompiled()
		}
	case "exports":
		b.out.sawExports = true
		b.out.keys = f.Keys
		b.out.callable = f.Callable
	case "render":
		b.out.rendered = true
		b.out.tree = f.Tree
	case "fail":
		if b.out.failStage == "" {
			b.out.failStage = f.Stage
			b.out.failMsg = f.Message
		}
	}
}

func (b *bridge) call(name string, args map[string]any) callResponse {
	fn, ok := b.funcs[name]
	if !ok {
		return callResponse{Error: "unknown function: " + name}
	}
	if args == nil {
		args = map[string]any{}
	}
	result, err := fn(b.ctx, args)
	if err != nil {
		return callResponse{Error: fmt.Sprintf("%s: %v", name, err)}
	}
	return callResponse{Data: result}
}

// respond writes off the Write path: the instance reads the reply only
// after its stderr write returns.
func (b *bridge) respond(resp callResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		data = []byte(`{"error":"internal: failed to marshal response"}`)
	}
	go func() {
		b.writeMu.Lock()
		defer b.writeMu.Unlock()
		b.stdinWriter.Write(append(data, '\n'))
	}()
}

func (b *bridge) outcome() outcome {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.out
}

// Stray returns stderr output that was not part of a frame.
func (b *bridge) Stray() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stray.String()
}
