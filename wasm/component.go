package wasm

import (
	"context"
	"errors"
	"sync"

	"github.com/caffeineduck/jsxbox/capability"
	"github.com/caffeineduck/jsxbox/executor"
	"github.com/caffeineduck/jsxbox/vdom"
)

var errClosed = errors.New("wasm: component is closed")

// component keeps what it needs to start a fresh instance per Render.
// Module scope state does not carry over between renders.
type component struct {
	engine     *Engine
	cfg        executor.Config
	body       string
	injections capability.InjectionMap
	console    *executor.Console
	exports    []string
	tree       *vdom.Node

	mu     sync.Mutex
	closed bool
}

func (c *component) Tree() *vdom.Node {
	return c.tree
}

func (c *component) Render(ctx context.Context, props map[string]any) (*vdom.Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errClosed
	}
	res, err := c.engine.run(ctx, c.cfg, c.body, c.injections, props, c.console, nil)
	if err != nil {
		return nil, err
	}
	return res.tree, nil
}

func (c *component) Exports() []string {
	out := make([]string, len(c.exports))
	copy(out, c.exports)
	return out
}

func (c *component) Logs() []executor.LogEntry {
	return c.console.Entries()
}

func (c *component) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
