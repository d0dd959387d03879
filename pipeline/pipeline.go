// Package pipeline is the render entry point: it binds imports against a
// capability registry, compiles the sanitized source and executes it in a
// fresh sandbox.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caffeineduck/jsxbox/binder"
	"github.com/caffeineduck/jsxbox/capability"
	"github.com/caffeineduck/jsxbox/executor"
	"github.com/caffeineduck/jsxbox/source"
	"github.com/caffeineduck/jsxbox/transform"
)

var ErrNoResolver = errors.New("pipeline: no source resolver configured")

// Option configures a Renderer.
type Option func(*Renderer)

// WithCompiler replaces the default esbuild compiler.
func WithCompiler(c transform.Compiler) Option {
	return func(r *Renderer) {
		r.compiler = c
	}
}

func WithResolver(res source.Resolver) Option {
	return func(r *Renderer) {
		r.resolver = res
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Renderer) {
		r.logger = l
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Renderer) {
		r.metrics = m
	}
}

// WithExecuteOptions sets options applied to every attempt before the
// per-call ones.
func WithExecuteOptions(opts ...executor.Option) Option {
	return func(r *Renderer) {
		r.defaults = append(r.defaults, opts...)
	}
}

// Renderer turns raw component source into a rendered component. It holds
// no per-attempt state and is safe for concurrent use.
type Renderer struct {
	registry *capability.Registry
	compiler transform.Compiler
	executor executor.Executor
	resolver source.Resolver
	logger   *zap.Logger
	metrics  *Metrics
	defaults []executor.Option
}

func New(reg *capability.Registry, exec executor.Executor, opts ...Option) *Renderer {
	r := &Renderer{
		registry: reg,
		compiler: transform.New(),
		executor: exec,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.metrics == nil {
		r.metrics = NewMetrics(nil)
	}
	return r
}

func (r *Renderer) Registry() *capability.Registry {
	return r.registry
}

// WithRegistry returns a copy of r that binds against reg.
func (r *Renderer) WithRegistry(reg *capability.Registry) *Renderer {
	c := *r
	c.registry = reg
	c.defaults = append([]executor.Option(nil), r.defaults...)
	return &c
}

// Check runs only the binder: it reports every import violation in src
// without compiling or executing anything.
func (r *Renderer) Check(ctx context.Context, src string) (*binder.Result, error) {
	start := time.Now()
	res, err := binder.Bind(ctx, src, r.registry)
	r.metrics.observe(StageBind, start)
	if err != nil {
		r.metrics.violations(err)
	}
	return res, err
}

// Render binds, compiles and executes src. Errors are *failure.Error or
// failure.Violations for the render taxonomy; anything else comes from the
// context or the host.
func (r *Renderer) Render(ctx context.Context, src string, opts ...executor.Option) (comp executor.Component, err error) {
	id := uuid.NewString()
	logger := r.logger.With(zap.String("attempt_id", id))
	start := time.Now()

	r.metrics.InFlight.Inc()
	defer func() {
		r.metrics.InFlight.Dec()
		r.metrics.record(err)
		if err != nil {
			logger.Info("render failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
			return
		}
		logger.Info("render completed", zap.Duration("duration", time.Since(start)))
	}()

	res, err := r.Check(ctx, src)
	if err != nil {
		return nil, err
	}
	logger.Debug("imports bound", zap.Int("bindings", len(res.Bindings)))

	compileStart := time.Now()
	body, err := r.compiler.Compile(ctx, res.Source)
	r.metrics.observe(StageCompile, compileStart)
	if err != nil {
		return nil, err
	}

	all := make([]executor.Option, 0, len(r.defaults)+len(opts)+2)
	all = append(all, executor.WithLogger(r.logger), executor.WithAttemptID(id))
	all = append(all, r.defaults...)
	all = append(all, opts...)

	execStart := time.Now()
	comp, err = r.executor.Execute(ctx, body, res.Injections, all...)
	r.metrics.observe(StageExecute, execStart)
	return comp, err
}

// RenderNamed resolves name to source and renders it.
func (r *Renderer) RenderNamed(ctx context.Context, name string, opts ...executor.Option) (executor.Component, error) {
	if r.resolver == nil {
		return nil, ErrNoResolver
	}
	src, err := r.resolver.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	return r.Render(ctx, src, opts...)
}
