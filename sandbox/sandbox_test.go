package sandbox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/caffeineduck/jsxbox/capability"
	"github.com/caffeineduck/jsxbox/executor"
	"github.com/caffeineduck/jsxbox/executor/executortest"
	"github.com/caffeineduck/jsxbox/failure"
	"github.com/caffeineduck/jsxbox/vdom"
)

func TestEngineConformance(t *testing.T) {
	executortest.Run(t, New())
}

func execute(t *testing.T, e *Engine, body string, inj capability.InjectionMap, opts ...executor.Option) executor.Component {
	t.Helper()
	comp, err := e.Execute(context.Background(), body, inj, opts...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { comp.Close() })
	return comp
}

func render(t *testing.T, comp executor.Component, props map[string]any) string {
	t.Helper()
	tree, err := comp.Render(context.Background(), props)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	out, err := vdom.HTML(tree)
	if err != nil {
		t.Fatalf("html: %v", err)
	}
	return out
}

func TestModuleStateSurvivesRenders(t *testing.T) {
	body, inj := executortest.Compile(t, `let renders = 0;
export default () => <p>{++renders}</p>;
`)
	comp := execute(t, New(), body, inj)

	if got := render(t, comp, nil); got != "<p>2</p>" {
		t.Errorf("expected <p>2</p>, got %q", got)
	}
	if got := render(t, comp, nil); got != "<p>3</p>" {
		t.Errorf("expected <p>3</p>, got %q", got)
	}
}

func TestRenderAfterClose(t *testing.T) {
	body, inj := executortest.Compile(t, `export default () => <p />;`)
	comp, err := New().Execute(context.Background(), body, inj)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := comp.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := comp.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := comp.Render(context.Background(), nil); !errors.Is(err, errClosed) {
		t.Errorf("expected errClosed, got %v", err)
	}
}

func TestRenderAfterTimeoutRefused(t *testing.T) {
	body, inj := executortest.Compile(t, `export default ({ spin }: { spin?: boolean }) => {
  while (spin) {}
  return null;
};
`)
	comp := execute(t, New(), body, inj, executor.WithTimeout(100*time.Millisecond))

	_, err := comp.Render(context.Background(), map[string]any{"spin": true})
	if !failure.Is(err, failure.KindExecutionTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if _, err := comp.Render(context.Background(), nil); !errors.Is(err, errDead) {
		t.Errorf("expected errDead, got %v", err)
	}
}

func TestParentContextCancelled(t *testing.T) {
	body, inj := executortest.Compile(t, `while (true) {}
export default () => null;
`)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := New().Execute(ctx, body, inj, executor.WithTimeout(5*time.Second))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDeepRecursionIsRuntimeError(t *testing.T) {
	body, inj := executortest.Compile(t, `function down(n: number): number {
  return down(n + 1) + 1;
}
export default () => <p>{down(0)}</p>;
`)
	_, err := New(WithMaxCallStackSize(100)).Execute(context.Background(), body, inj)
	if failure.KindOf(err) != failure.KindRuntimeError {
		t.Errorf("expected runtime error, got %v", err)
	}
}

func TestTreeDepthLimit(t *testing.T) {
	body, inj := executortest.Compile(t, `function Nest({ n }: { n: number }): any {
  return n === 0 ? <i /> : <b><Nest n={n - 1} /></b>;
}
export default () => <Nest n={40} />;
`)
	_, err := New(WithMaxDepth(16)).Execute(context.Background(), body, inj)
	if err == nil || !strings.Contains(err.Error(), "maximum depth") {
		t.Errorf("expected depth error, got %v", err)
	}

	comp := execute(t, New(), body, inj)
	if got := vdom.TextContent(comp.Tree()); got != "" {
		t.Errorf("expected no text, got %q", got)
	}
}

func TestPlainObjectChildRejected(t *testing.T) {
	body, inj := executortest.Compile(t, `export default () => <p>{{ type: "script", props: {} } as any}</p>;`)
	_, err := New().Execute(context.Background(), body, inj)
	if failure.KindOf(err) != failure.KindRuntimeError {
		t.Errorf("expected runtime error, got %v", err)
	}
}

func TestKVCapability(t *testing.T) {
	kv := capability.NewKV(capability.DefaultKVConfig())
	inj := capability.InjectionMap{
		"get": capability.Func(kv.Get),
		"set": capability.Func(kv.Set),
	}
	body := `"use strict";
set({ key: "greeting", value: { text: "hi" } });
module.exports = {
  default: function () {
    return get({ key: "greeting" }).text;
  }
};
`
	comp := execute(t, New(), body, inj)
	if got := vdom.TextContent(comp.Tree()); got != "hi" {
		t.Errorf("expected hi, got %q", got)
	}
}

func TestCapabilityReceivesDeadline(t *testing.T) {
	var deadline time.Time
	inj := capability.InjectionMap{
		"stamp": capability.Func(func(ctx context.Context, args map[string]any) (any, error) {
			deadline, _ = ctx.Deadline()
			return nil, nil
		}),
	}
	body := `stamp({});
module.exports = { default: function () { return null; } };
`
	start := time.Now()
	execute(t, New(), body, inj, executor.WithTimeout(time.Second))

	if deadline.IsZero() {
		t.Fatal("capability context had no deadline")
	}
	if deadline.Sub(start) > 2*time.Second {
		t.Errorf("deadline too far out: %v", deadline.Sub(start))
	}
}

func TestBodyLineNumbersPreserved(t *testing.T) {
	body := "module.exports = { default: function () {\n\n  throw new Error('boom');\n} };\n"
	_, err := New().Execute(context.Background(), body, nil)
	if failure.KindOf(err) != failure.KindRuntimeError {
		t.Fatalf("expected runtime error, got %v", err)
	}
	if !strings.Contains(err.Error(), "component.js:3") {
		t.Errorf("expected location component.js:3 in %q", err.Error())
	}
}
