package wasm

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	quickjswasi "github.com/paralin/go-quickjs-wasi"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/caffeineduck/jsxbox/capability"
	"github.com/caffeineduck/jsxbox/executor"
	"github.com/caffeineduck/jsxbox/failure"
	"github.com/caffeineduck/jsxbox/vdom"
)

//go:embed prelude.js
var prelude string

const maxNodes = 50000

var ErrClosed = errors.New("wasm: engine closed")

// Engine runs components in QuickJS compiled to WASI, one fresh module
// instance per Execute and per Render.
type Engine struct {
	runtime  wazero.Runtime
	cache    wazero.CompilationCache
	compiled wazero.CompiledModule
	cfg      engineConfig
	mu       sync.RWMutex
	closed   bool
}

var _ executor.Executor = (*Engine)(nil)

// New creates an Engine. The interpreter is compiled lazily unless
// WithPrecompile is given.
func New(opts ...Option) (*Engine, error) {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx := context.Background()

	var cache wazero.CompilationCache
	var err error

	if cfg.diskCache {
		cacheDir := cfg.cacheDir
		if cacheDir == "" {
			cacheDir = defaultCacheDir()
		}
		cache, err = wazero.NewCompilationCacheWithDir(cacheDir)
		if err != nil {
			return nil, fmt.Errorf("create disk cache: %w", err)
		}
	}

	rtConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cache != nil {
		rtConfig = rtConfig.WithCompilationCache(cache)
	}
	if cfg.memoryLimitPages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(cfg.memoryLimitPages)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rtConfig)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		if cache != nil {
			cache.Close(ctx)
		}
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}

	e := &Engine{
		runtime: rt,
		cache:   cache,
		cfg:     cfg,
	}

	if cfg.precompile {
		if _, err := e.getCompiled(ctx); err != nil {
			e.Close()
			return nil, fmt.Errorf("precompile: %w", err)
		}
	}

	return e, nil
}

// Execute runs body in a new instance, inspects its exports and renders
// the default export once, all within the attempt's deadline.
func (e *Engine) Execute(ctx context.Context, body string, injections capability.InjectionMap, opts ...executor.Option) (executor.Component, error) {
	cfg := executor.NewConfig(opts...)
	start := time.Now()

	cfg.Enter(executor.StateCreated)
	console := executor.NewConsole(cfg.Logger)

	cfg.Enter(executor.StateCompiling)
	res, err := e.run(ctx, cfg, body, injections, cfg.Props, console, func() {
		cfg.Enter(executor.StateExecuting)
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
		zap.Strings("exports", res.exports),
		zap.Duration("duration", time.Since(start)))

	return &component{
		engine:     e,
		cfg:        cfg,
		body:       body,
		injections: injections,
		console:    console,
		exports:    res.exports,
		tree:       res.tree,
	}, nil
}

type result struct {
	exports []string
	tree    *vdom.Node
}

// run instantiates the interpreter once with the prelude, body and props.
func (e *Engine) run(ctx context.Context, cfg executor.Config, body string, injections capability.InjectionMap, props map[string]any, console *executor.Console, onCompiled func()) (*result, error) {
	script, err := e.script(body, injections, props)
	if err != nil {
		return nil, err
	}

	compiled, err := e.getCompiled(ctx)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	var stdout bytes.Buffer
	stdinReader, stdinWriter := io.Pipe()
	b := newBridge(runCtx, injections, console, stdinWriter, onCompiled)

	moduleConfig := wazero.NewModuleConfig().
		WithStdout(&stdout).
		WithStderr(b).
		WithStdin(stdinReader).
		WithArgs("qjs", "--std", "-e", script).
		WithName("")

	errCh := make(chan error, 1)
	go func() {
		mod, err := e.runtime.InstantiateModule(runCtx, compiled, moduleConfig)
		if mod != nil {
			mod.Close(context.Background())
		}
		stdinWriter.Close()
		errCh <- err
	}()

	var runErr error
	select {
	case runErr = <-errCh:
		if runCtx.Err() == nil {
			break
		}
		return nil, expired(ctx, cfg.Timeout)
	case <-runCtx.Done():
		// A read blocked on stdin is not interrupted by the context.
		stdinWriter.Close()
		stdinReader.Close()
		select {
		case <-errCh:
		case <-time.After(e.cfg.abandonAfter):
			cfg.Logger.Warn("abandoning unresponsive wasm instance", zap.Duration("deadline", cfg.Timeout))
		}
		return nil, expired(ctx, cfg.Timeout)
	}

	if s := b.Stray(); s != "" {
		cfg.Logger.Debug("interpreter stderr", zap.String("output", s))
	}
	return e.interpret(b.outcome(), runErr, injections)
}

func (e *Engine) interpret(out outcome, runErr error, injections capability.InjectionMap) (*result, error) {
	switch {
	case out.disallowed != "":
		return nil, failure.DisallowedLoad(out.disallowed)
	case out.failStage == "compile":
		return nil, failure.CompileError(out.failMsg, 0, 0)
	case out.failStage != "":
		return nil, failure.RuntimeError(out.failMsg)
	case !out.sawExports:
		if runErr != nil {
			return nil, failure.RuntimeError(fmt.Sprintf("interpreter exited: %v", runErr))
		}
		return nil, failure.RuntimeError("interpreter exited before reporting exports")
	}

	keys := out.keys
	if keys == nil {
		keys = []string{}
	}
	if !out.callable {
		return nil, failure.InvalidExportShape(keys)
	}
	if !out.rendered {
		return nil, failure.RuntimeError("interpreter exited before rendering")
	}

	tree, err := decodeTree(out.tree, injections)
	if err != nil {
		return nil, failure.RuntimeError(err.Error())
	}
	return &result{exports: keys, tree: tree}, nil
}

func expired(parent context.Context, timeout time.Duration) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return failure.ExecutionTimeout(timeout)
}

// script is the prelude applied to the boot configuration.
func (e *Engine) script(body string, injections capability.InjectionMap, props map[string]any) (string, error) {
	if props == nil {
		props = map[string]any{}
	}
	boot, err := json.Marshal(bootConfig{
		Body:     body,
		Props:    props,
		Caps:     capSpecs(injections),
		MaxDepth: e.cfg.maxDepth,
		MaxNodes: maxNodes,
	})
	if err != nil {
		return "", fmt.Errorf("encode injections: %w", err)
	}
	return prelude + "(" + string(boot) + ");\n", nil
}

// getCompiled returns the compiled interpreter, compiling it on first use.
func (e *Engine) getCompiled(ctx context.Context) (wazero.CompiledModule, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, ErrClosed
	}
	if e.compiled != nil {
		compiled := e.compiled
		e.mu.RUnlock()
		return compiled, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}
	if e.compiled != nil {
		return e.compiled, nil
	}

	compiled, err := e.runtime.CompileModule(ctx, quickjswasi.QuickJSWASM)
	if err != nil {
		return nil, fmt.Errorf("compile quickjs: %w", err)
	}

	e.compiled = compiled
	return compiled, nil
}

// Close releases the runtime and the compilation cache.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	ctx := context.Background()

	var errs []error
	if err := e.runtime.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if e.cache != nil {
		if err := e.cache.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func defaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "jsxbox")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "jsxbox")
	}
	return filepath.Join(os.TempDir(), "jsxbox-cache")
}
