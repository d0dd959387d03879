package sandbox

import (
	"context"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/caffeineduck/jsxbox/capability"
	"github.com/caffeineduck/jsxbox/executor"
	"github.com/caffeineduck/jsxbox/failure"
	"github.com/caffeineduck/jsxbox/vdom"
)

const (
	// DefaultMaxCallStackSize bounds recursion depth inside the VM.
	DefaultMaxCallStackSize = 500
	// DefaultAbandonAfter is how long a timed out attempt may take to
	// observe the interrupt before its goroutine is abandoned.
	DefaultAbandonAfter = 50 * time.Millisecond
	// DefaultMaxDepth bounds the depth of the rendered element tree.
	DefaultMaxDepth = 256
)

// Option configures an Engine.
type Option func(*Engine)

// WithMaxCallStackSize sets the VM call stack limit.
func WithMaxCallStackSize(n int) Option {
	return func(e *Engine) {
		e.maxCallStack = n
	}
}

// WithAbandonAfter sets the grace period given to an interrupted VM.
func WithAbandonAfter(d time.Duration) Option {
	return func(e *Engine) {
		e.abandonAfter = d
	}
}

// WithMaxDepth sets the maximum depth of a rendered tree.
func WithMaxDepth(n int) Option {
	return func(e *Engine) {
		e.maxDepth = n
	}
}

// Engine runs components in goja, one runtime per Execute call.
type Engine struct {
	maxCallStack int
	abandonAfter time.Duration
	maxDepth     int
}

var _ executor.Executor = (*Engine)(nil)

func New(opts ...Option) *Engine {
	e := &Engine{
		maxCallStack: DefaultMaxCallStackSize,
		abandonAfter: DefaultAbandonAfter,
		maxDepth:     DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs body in a new runtime that sees only injections, console
// and the module loader, then renders the default export once.
func (e *Engine) Execute(ctx context.Context, body string, injections capability.InjectionMap, opts ...executor.Option) (executor.Component, error) {
	cfg := executor.NewConfig(opts...)
	start := time.Now()

	cfg.Enter(executor.StateCreated)
	a, err := newAttempt(e, cfg)
	if err != nil {
		cfg.Enter(executor.StateFailed)
		return nil, err
	}
	a.install(injections)

	cfg.Enter(executor.StateCompiling)
	prg, err := goja.Compile(scriptName, wrapBody(body), true)
	if err != nil {
		cfg.Enter(executor.StateFailed)
		return nil, failure.CompileError(err.Error(), 0, 0)
	}

	cfg.Enter(executor.StateExecuting)
	var (
		def     goja.Value
		exports []string
		tree    *vdom.Node
	)
	err = a.guard(ctx, cfg.Timeout, func() error {
		var err error
		def, exports, err = a.run(prg)
		if err != nil {
			return err
		}
		tree, err = a.render(def, cfg.Props)
		return err
	})
	if err != nil {
		if failure.Is(err, failure.KindExecutionTimeout) {
			cfg.Enter(executor.StateTimedOut)
		} else {
			cfg.Enter(executor.StateFailed)
		}
		cfg.Logger.Debug("component execution failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return nil, err
	}

	cfg.Enter(executor.StateCompleted)
	cfg.Logger.Debug("component executed",
		zap.Strings("exports", exports),
		zap.Duration("duration", time.Since(start)))

	return &component{
		attempt: a,
		def:     def,
		exports: exports,
		tree:    tree,
		timeout: cfg.Timeout,
	}, nil
}
