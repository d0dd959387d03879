package sandbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/caffeineduck/jsxbox/executor"
	"github.com/caffeineduck/jsxbox/vdom"
)

var errClosed = errors.New("sandbox: component is closed")

// component keeps the runtime of its attempt alive so that state created
// at module scope survives between renders.
type component struct {
	attempt *attempt
	def     goja.Value
	exports []string
	tree    *vdom.Node
	timeout time.Duration

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

	var tree *vdom.Node
	err := c.attempt.guard(ctx, c.timeout, func() error {
		var err error
		tree, err = c.attempt.render(c.def, props)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tree, nil
}

func (c *component) Exports() []string {
	out := make([]string, len(c.exports))
	copy(out, c.exports)
	return out
}

func (c *component) Logs() []executor.LogEntry {
	return c.attempt.console.Entries()
}

func (c *component) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.def = nil
	c.attempt.vm.Interrupt(errClosed)
	return nil
}
