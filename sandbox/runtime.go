package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/caffeineduck/jsxbox/capability"
	"github.com/caffeineduck/jsxbox/executor"
	"github.com/caffeineduck/jsxbox/failure"
	"github.com/caffeineduck/jsxbox/vdom"
)

const scriptName = "component.js"

var (
	errInterrupted = errors.New("execution deadline exceeded")
	errDead        = errors.New("sandbox: context was discarded after a timeout")
)

// wrapBody turns a CommonJS body into a function expression. The body
// starts on the first line so diagnostics keep its line numbers.
func wrapBody(body string) string {
	return "(function (exports, module, require) {" + body + "\n})"
}

// attempt is the isolated context of one Execute call. It is only touched
// from the goroutine currently running inside guard.
type attempt struct {
	engine  *Engine
	vm      *goja.Runtime
	console *executor.Console
	logger  *zap.Logger

	jsxRuntime *goja.Object
	fragment   *goja.Symbol
	elements   map[*goja.Object]*element
	intrinsics map[*goja.Object]vdom.Intrinsic
	nodes      int

	callCtx    context.Context
	disallowed string
	dead       bool
}

func newAttempt(e *Engine, cfg executor.Config) (*attempt, error) {
	vm := goja.New()
	vm.SetMaxCallStackSize(e.maxCallStack)
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if err := disableDangerousGlobals(vm); err != nil {
		return nil, fmt.Errorf("harden runtime: %w", err)
	}

	a := &attempt{
		engine:     e,
		vm:         vm,
		console:    executor.NewConsole(cfg.Logger),
		logger:     cfg.Logger,
		elements:   make(map[*goja.Object]*element),
		intrinsics: make(map[*goja.Object]vdom.Intrinsic),
		callCtx:    context.Background(),
	}
	a.jsxRuntime = a.newJSXRuntime()
	return a, nil
}

// Function kinds whose prototypes carry a constructor. Kinds the parser
// does not support have no reachable constructor and are skipped.
var functionKinds = []string{
	"(function*(){})",
	"(async function(){})",
	"(async function*(){})",
}

const blockConstructors = `(function(protos) {
	var blocked = function() { throw new TypeError('Function constructor is disabled'); };
	blocked.prototype = Function.prototype;
	for (var i = 0; i < protos.length; i++) {
		Object.defineProperty(protos[i], 'constructor', {
			value: blocked,
			writable: false,
			configurable: false
		});
	}
	Function = blocked;
	return (function(){}).constructor === blocked && Function === blocked;
})`

// disableDangerousGlobals removes eval and every route to a function
// constructor. The constructors are replaced rather than deleted so
// instanceof keeps working.
func disableDangerousGlobals(vm *goja.Runtime) error {
	if err := vm.Set("eval", goja.Undefined()); err != nil {
		return err
	}

	protos := []any{vm.Get("Function").ToObject(vm).Get("prototype")}
	for _, src := range functionKinds {
		fn, err := vm.RunString(src)
		if err != nil {
			var syntaxErr *goja.CompilerSyntaxError
			if errors.As(err, &syntaxErr) {
				continue
			}
			return err
		}
		protos = append(protos, fn.ToObject(vm).Prototype())
	}

	v, err := vm.RunString(blockConstructors)
	if err != nil {
		return err
	}
	block, ok := goja.AssertFunction(v)
	if !ok {
		return errors.New("constructor blocker is not callable")
	}
	res, err := block(goja.Undefined(), vm.NewArray(protos...))
	if err != nil {
		return err
	}
	if !res.ToBoolean() {
		return errors.New("function constructor is still reachable")
	}
	return nil
}

// install binds console and every injected capability as globals. Nothing
// else is added to the global object.
func (a *attempt) install(injections capability.InjectionMap) {
	console := a.vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		console.Set(level, a.consoleFunc(level))
	}
	a.vm.Set("console", console)

	for _, name := range injections.Names() {
		a.vm.Set(name, a.capabilityValue(name, injections[name]))
	}
}

func (a *attempt) consoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = a.format(arg)
		}
		a.console.Log(level, strings.Join(parts, " "))
		return goja.Undefined()
	}
}

func (a *attempt) format(v goja.Value) string {
	obj, ok := v.(*goja.Object)
	if !ok {
		return v.String()
	}
	if _, isFn := goja.AssertFunction(obj); isFn {
		return "[Function]"
	}
	if data, err := json.Marshal(obj.Export()); err == nil {
		return string(data)
	}
	return obj.String()
}

func (a *attempt) capabilityValue(name string, v any) goja.Value {
	switch c := v.(type) {
	case capability.Func:
		return a.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			args, _ := call.Argument(0).Export().(map[string]any)
			if args == nil {
				args = map[string]any{}
			}
			res, err := c(a.callCtx, args)
			if err != nil {
				panic(a.vm.NewGoError(fmt.Errorf("%s: %w", name, err)))
			}
			return a.vm.ToValue(res)
		})
	case *vdom.Intrinsic:
		return a.intrinsic(*c)
	case vdom.Intrinsic:
		return a.intrinsic(c)
	default:
		return a.vm.ToValue(v)
	}
}

func (a *attempt) intrinsic(in vdom.Intrinsic) goja.Value {
	obj := a.vm.NewObject()
	obj.Set("tag", in.Tag)
	a.intrinsics[obj] = in
	return obj
}

// require is the loader handed to the body. The first refused id is kept:
// the attempt fails with it even if the body catches the exception.
func (a *attempt) require(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).String()
	if !executor.Loadable(id) {
		if a.disallowed == "" {
			a.disallowed = id
		}
		panic(a.vm.NewGoError(failure.DisallowedLoad(id)))
	}
	return a.jsxRuntime
}

func (a *attempt) loadViolation() error {
	if a.disallowed != "" {
		return failure.DisallowedLoad(a.disallowed)
	}
	return nil
}

// run evaluates the wrapped body and validates module.exports.
func (a *attempt) run(prg *goja.Program) (goja.Value, []string, error) {
	wrapper, err := a.vm.RunProgram(prg)
	if err != nil {
		return nil, nil, a.classify(err)
	}
	fn, ok := goja.AssertFunction(wrapper)
	if !ok {
		return nil, nil, failure.CompileError("body did not evaluate to a function", 0, 0)
	}

	module := a.vm.NewObject()
	exports := a.vm.NewObject()
	module.Set("exports", exports)

	if _, err := fn(goja.Undefined(), exports, module, a.vm.ToValue(a.require)); err != nil {
		return nil, nil, a.classify(err)
	}
	if err := a.loadViolation(); err != nil {
		return nil, nil, err
	}
	return a.inspect(module)
}

// inspect reads the exports receptacle as replaced by the body. Getters on
// it are untrusted code and run under the caller's deadline.
func (a *attempt) inspect(module *goja.Object) (goja.Value, []string, error) {
	keys := []string{}
	def := goja.Undefined()
	if obj, ok := module.Get("exports").(*goja.Object); ok {
		keys = append(keys, obj.Keys()...)
		def = obj.Get("default")
	}
	if _, ok := goja.AssertFunction(def); !ok {
		return nil, keys, failure.InvalidExportShape(keys)
	}
	return def, keys, nil
}

func (a *attempt) classify(err error) error {
	if v := a.loadViolation(); v != nil {
		return v
	}
	var fe *failure.Error
	if errors.As(err, &fe) {
		return fe
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return err
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return failure.RuntimeError(ex.Error())
	}
	return failure.RuntimeError(err.Error())
}

func (a *attempt) recovered(r any) error {
	if err, ok := r.(error); ok {
		return a.classify(err)
	}
	if v, ok := r.(goja.Value); ok {
		return failure.RuntimeError(v.String())
	}
	return failure.RuntimeError(fmt.Sprint(r))
}

// guard runs fn on its own goroutine with a hard deadline. When the
// deadline passes the VM is interrupted; if fn still has not returned
// after the grace period (a capability blocking in Go, say) its goroutine
// is abandoned. Either way the attempt is dead afterwards.
func (a *attempt) guard(ctx context.Context, timeout time.Duration, fn func() error) error {
	if a.dead {
		return errDead
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	a.callCtx = runCtx

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- a.recovered(r)
			}
		}()
		done <- fn()
	}()

	select {
	case err := <-done:
		a.vm.ClearInterrupt()
		if err == nil || runCtx.Err() == nil {
			return err
		}
		// fn noticed the deadline before we did.
	case <-runCtx.Done():
		a.vm.Interrupt(errInterrupted)
		select {
		case <-done:
		case <-time.After(a.engine.abandonAfter):
			a.logger.Warn("abandoning unresponsive sandbox goroutine", zap.Duration("deadline", timeout))
		}
	}
	a.dead = true

	if err := ctx.Err(); err != nil {
		return err
	}
	return failure.ExecutionTimeout(timeout)
}
