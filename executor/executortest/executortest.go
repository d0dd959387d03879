// Package executortest holds the behavior every executor.Executor must
// share. Engine packages call Run from their tests.
package executortest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caffeineduck/jsxbox/binder"
	"github.com/caffeineduck/jsxbox/capability"
	"github.com/caffeineduck/jsxbox/executor"
	"github.com/caffeineduck/jsxbox/failure"
	"github.com/caffeineduck/jsxbox/transform"
	"github.com/caffeineduck/jsxbox/vdom"
)

// Registry is the capability set the suite's sources import from.
func Registry() *capability.Registry {
	return capability.MustNew(map[string]capability.Module{
		"@docs/ui": {
			"Button": vdom.Intrinsic{Tag: "button", Attrs: map[string]string{"class": "ui-button"}},
			"Card":   vdom.Intrinsic{Tag: "section", Attrs: map[string]string{"class": "ui-card"}},
		},
		"@docs/util": {
			"greet": capability.Func(func(ctx context.Context, args map[string]any) (any, error) {
				name, _ := args["name"].(string)
				if name == "" {
					return nil, errors.New("name required")
				}
				return "Hello, " + name + "!", nil
			}),
			"block": capability.Func(func(ctx context.Context, args map[string]any) (any, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			}),
			"version": "2.1.0",
		},
	})
}

// Compile binds and compiles src against Registry.
func Compile(t testing.TB, src string) (string, capability.InjectionMap) {
	t.Helper()
	res, err := binder.Bind(context.Background(), src, Registry())
	require.NoError(t, err)
	body, err := transform.New().Compile(context.Background(), res.Source)
	require.NoError(t, err)
	return body, res.Injections
}

// Run exercises exec. opts are applied to every call that is not about
// the default deadline, so slow engines can be given more room.
func Run(t *testing.T, exec executor.Executor, opts ...executor.Option) {
	s := &suite{exec: exec, opts: opts}

	t.Run("RendersIntrinsicWithProps", s.rendersIntrinsic)
	t.Run("CallsCapabilityFunc", s.callsCapability)
	t.Run("CapabilityErrorIsRuntimeError", s.capabilityError)
	t.Run("NestedComponentsAndFragments", s.nestedComponents)
	t.Run("RendersWithNewProps", s.rerender)
	t.Run("DefaultDeadline", s.defaultDeadline)
	t.Run("TimeoutDuringRender", s.timeoutDuringRender)
	t.Run("BlockingCapabilityTimesOut", s.blockingCapability)
	t.Run("InvalidExportShape", s.invalidExportShape)
	t.Run("InvalidExportShapeEmpty", s.invalidExportShapeEmpty)
	t.Run("DisallowedLoad", s.disallowedLoad)
	t.Run("DisallowedLoadCaught", s.disallowedLoadCaught)
	t.Run("UnknownIdentifier", s.unknownIdentifier)
	t.Run("NoAmbientHostAccess", s.noAmbientAccess)
	t.Run("FunctionConstructorBlocked", s.functionConstructor)
	t.Run("CompileError", s.compileError)
	t.Run("ConsoleCaptured", s.console)
	t.Run("StateTransitions", s.states)
	t.Run("FreshContextPerAttempt", s.freshContext)
	t.Run("Idempotent", s.idempotent)
}

type suite struct {
	exec executor.Executor
	opts []executor.Option
}

func (s *suite) execute(t *testing.T, src string, opts ...executor.Option) (executor.Component, error) {
	t.Helper()
	body, inj := Compile(t, src)
	all := append(append([]executor.Option{}, s.opts...), opts...)
	comp, err := s.exec.Execute(context.Background(), body, inj, all...)
	if comp != nil {
		t.Cleanup(func() { comp.Close() })
	}
	return comp, err
}

func (s *suite) html(t *testing.T, src string, opts ...executor.Option) string {
	t.Helper()
	comp, err := s.execute(t, src, opts...)
	require.NoError(t, err)
	out, err := vdom.HTML(comp.Tree())
	require.NoError(t, err)
	return out
}

func (s *suite) rendersIntrinsic(t *testing.T) {
	out := s.html(t, `import { Button } from "@docs/ui";
export default function Demo({ label }: { label: string }) {
  return <Button className="primary" onClick={() => {}} disabled>{label}</Button>;
}
`, executor.WithProps(map[string]any{"label": "Save"}))

	assert.Equal(t, `<button class="ui-button primary" disabled="">Save</button>`, out)
}

func (s *suite) callsCapability(t *testing.T) {
	out := s.html(t, `import { greet, version } from "@docs/util";
export default () => <p data-version={version}>{greet({ name: "docs" })}</p>;
`)
	assert.Equal(t, `<p data-version="2.1.0">Hello, docs!</p>`, out)
}

func (s *suite) capabilityError(t *testing.T) {
	_, err := s.execute(t, `import { greet } from "@docs/util";
export default () => <p>{greet({})}</p>;
`)
	require.Error(t, err)
	assert.Equal(t, failure.KindRuntimeError, failure.KindOf(err))
	assert.Contains(t, err.Error(), "name required")
}

func (s *suite) nestedComponents(t *testing.T) {
	out := s.html(t, `import { Card } from "@docs/ui";
const items = ["a", "b"];
function Item({ v }: { v: string }) {
  return <li>{v}</li>;
}
export default function List() {
  return (
    <>
      <Card title="List">
        <ul>{items.map((v) => <Item key={v} v={v} />)}</ul>
      </Card>
      {null}
      {false}
      {3}
    </>
  );
}
`)
	assert.Equal(t, `<section class="ui-card" title="List"><ul><li>a</li><li>b</li></ul></section>3`, out)
}

func (s *suite) rerender(t *testing.T) {
	comp, err := s.execute(t, `export default ({ n = 0 }: { n?: number }) => <span>{n * 2}</span>;`)
	require.NoError(t, err)

	tree, err := comp.Render(context.Background(), map[string]any{"n": 21})
	require.NoError(t, err)
	out, err := vdom.HTML(tree)
	require.NoError(t, err)
	assert.Equal(t, `<span>42</span>`, out)
}

func (s *suite) defaultDeadline(t *testing.T) {
	body, inj := Compile(t, `export default function Component() { while (true) {} }`)

	var states []executor.State
	start := time.Now()
	comp, err := s.exec.Execute(context.Background(), body, inj,
		executor.WithStateHook(func(st executor.State) { states = append(states, st) }))
	elapsed := time.Since(start)

	assert.Nil(t, comp)
	require.Error(t, err)
	var fe *failure.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, failure.KindExecutionTimeout, fe.Kind)
	assert.Equal(t, 250*time.Millisecond, fe.Deadline)
	assert.Less(t, elapsed, 5*time.Second)
	require.NotEmpty(t, states)
	assert.Equal(t, executor.StateTimedOut, states[len(states)-1])
}

func (s *suite) timeoutDuringRender(t *testing.T) {
	comp, err := s.execute(t, `export default ({ spin }: { spin?: boolean }) => {
  while (spin) {}
  return <p>idle</p>;
};
`, executor.WithTimeout(time.Second))
	require.NoError(t, err)

	_, err = comp.Render(context.Background(), map[string]any{"spin": true})
	require.Error(t, err)
	assert.Equal(t, failure.KindExecutionTimeout, failure.KindOf(err))
}

func (s *suite) blockingCapability(t *testing.T) {
	_, err := s.execute(t, `import { block } from "@docs/util";
block({});
export default () => null;
`, executor.WithTimeout(200*time.Millisecond))
	require.Error(t, err)
	assert.Equal(t, failure.KindExecutionTimeout, failure.KindOf(err))
}

func (s *suite) invalidExportShape(t *testing.T) {
	_, err := s.execute(t, `export const code = "const x = 1";`)
	require.Error(t, err)

	var fe *failure.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, failure.KindInvalidExportShape, fe.Kind)
	assert.Equal(t, []string{"code"}, fe.Exports)

	_, err = s.execute(t, `export const title = "x";
export default 42;
`)
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, failure.KindInvalidExportShape, fe.Kind)
	assert.ElementsMatch(t, []string{"default", "title"}, fe.Exports)
}

func (s *suite) invalidExportShapeEmpty(t *testing.T) {
	_, err := s.execute(t, `const unused = 1;
export {};
`)
	require.Error(t, err)

	var fe *failure.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, failure.KindInvalidExportShape, fe.Kind)
	assert.Empty(t, fe.Exports)
}

func (s *suite) disallowedLoad(t *testing.T) {
	_, err := s.execute(t, `export { readFile } from "fs";
export default () => null;
`)
	require.Error(t, err)

	var fe *failure.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, failure.KindDisallowedLoad, fe.Kind)
	assert.Equal(t, "fs", fe.Argument)
}

func (s *suite) disallowedLoadCaught(t *testing.T) {
	_, err := s.execute(t, `let fs: unknown;
try {
  fs = require("child_process");
} catch (e) {
  fs = null;
}
export default () => <p>{String(fs)}</p>;
`)
	require.Error(t, err)

	var fe *failure.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, failure.KindDisallowedLoad, fe.Kind)
	assert.Equal(t, "child_process", fe.Argument)
}

func (s *suite) unknownIdentifier(t *testing.T) {
	_, err := s.execute(t, `export default () => <Missing />;`)
	require.Error(t, err)
	assert.Equal(t, failure.KindRuntimeError, failure.KindOf(err))
	assert.Contains(t, err.Error(), "Missing")
}

func (s *suite) noAmbientAccess(t *testing.T) {
	out := s.html(t, `export default () => (
  <p>
    {[typeof process, typeof fetch, typeof std, typeof os, typeof setTimeout, typeof eval].join(",")}
  </p>
);
`)
	assert.Equal(t, "<p>undefined,undefined,undefined,undefined,undefined,undefined</p>", out)
}

func (s *suite) functionConstructor(t *testing.T) {
	for _, expr := range []string{
		`(() => 0).constructor("return 1")()`,
		`Function("return 1")()`,
	} {
		_, err := s.execute(t, fmt.Sprintf("const v = %s;\nexport default () => <p>{v}</p>;\n", expr))
		require.Error(t, err, expr)
		assert.Equal(t, failure.KindRuntimeError, failure.KindOf(err), expr)
	}
}

func (s *suite) compileError(t *testing.T) {
	comp, err := s.exec.Execute(context.Background(), "module.exports = {;", nil, s.opts...)
	assert.Nil(t, comp)
	require.Error(t, err)
	assert.Equal(t, failure.KindCompileError, failure.KindOf(err))
}

func (s *suite) console(t *testing.T) {
	comp, err := s.execute(t, `console.log("loaded", 1, { a: true });
export default () => {
  console.warn("rendering");
  return null;
};
`)
	require.NoError(t, err)

	logs := comp.Logs()
	require.Len(t, logs, 2)
	assert.Equal(t, "log", logs[0].Level)
	assert.Equal(t, `loaded 1 {"a":true}`, logs[0].Message)
	assert.Equal(t, "warn", logs[1].Level)
}

func (s *suite) states(t *testing.T) {
	var states []executor.State
	_, err := s.execute(t, `export default () => <p />;`,
		executor.WithStateHook(func(st executor.State) { states = append(states, st) }))
	require.NoError(t, err)
	assert.Equal(t, []executor.State{
		executor.StateCreated,
		executor.StateCompiling,
		executor.StateExecuting,
		executor.StateCompleted,
	}, states)

	states = nil
	_, err = s.execute(t, `export const x = 1;`,
		executor.WithStateHook(func(st executor.State) { states = append(states, st) }))
	require.Error(t, err)
	require.NotEmpty(t, states)
	assert.Equal(t, executor.StateFailed, states[len(states)-1])
}

func (s *suite) freshContext(t *testing.T) {
	_, err := s.execute(t, `(globalThis as any).leak = "first";
export default () => null;
`)
	require.NoError(t, err)

	out := s.html(t, `export default () => <p>{typeof (globalThis as any).leak}</p>;`)
	assert.Equal(t, "<p>undefined</p>", out)
}

func (s *suite) idempotent(t *testing.T) {
	src := `import { Button } from "@docs/ui";
export default () => <Button>again</Button>;
`
	first := s.html(t, src)
	second := s.html(t, src)
	assert.Equal(t, first, second)
	assert.True(t, strings.Contains(first, "again"))
}
