package wasm

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/caffeineduck/jsxbox/capability"
	"github.com/caffeineduck/jsxbox/executor"
	"github.com/caffeineduck/jsxbox/executor/executortest"
	"github.com/caffeineduck/jsxbox/failure"
	"github.com/caffeineduck/jsxbox/vdom"
)

// Compiling the interpreter takes a while; tests share one engine.
var (
	testEngine     *Engine
	testEngineOnce sync.Once
	testEngineErr  error
)

func getTestEngine(t *testing.T) *Engine {
	t.Helper()
	testEngineOnce.Do(func() {
		testEngine, testEngineErr = New(WithPrecompile())
	})
	if testEngineErr != nil {
		t.Fatalf("create engine: %v", testEngineErr)
	}
	return testEngine
}

func TestMain(m *testing.M) {
	code := m.Run()
	if testEngine != nil {
		testEngine.Close()
	}
	os.Exit(code)
}

func TestEngineConformance(t *testing.T) {
	executortest.Run(t, getTestEngine(t), executor.WithTimeout(5*time.Second))
}

func TestModuleStateResetsPerRender(t *testing.T) {
	body, inj := executortest.Compile(t, `let renders = 0;
export default () => <p>{++renders}</p>;
`)
	comp, err := getTestEngine(t).Execute(context.Background(), body, inj, executor.WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer comp.Close()

	for i := 0; i < 2; i++ {
		tree, err := comp.Render(context.Background(), nil)
		if err != nil {
			t.Fatalf("render: %v", err)
		}
		if got := vdom.TextContent(tree); got != "1" {
			t.Errorf("render %d: expected 1, got %q", i, got)
		}
	}
}

func TestRenderAfterClose(t *testing.T) {
	body, inj := executortest.Compile(t, `export default () => <p />;`)
	comp, err := getTestEngine(t).Execute(context.Background(), body, inj, executor.WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	comp.Close()
	if _, err := comp.Render(context.Background(), nil); !errors.Is(err, errClosed) {
		t.Errorf("expected errClosed, got %v", err)
	}
}

func TestUnserializableInjection(t *testing.T) {
	inj := capability.InjectionMap{"ch": make(chan int)}
	_, err := getTestEngine(t).Execute(context.Background(), "module.exports = { default: function () { return null; } };", inj)
	if err == nil {
		t.Fatal("expected error for channel injection")
	}
	if failure.KindOf(err) != failure.KindUnknown {
		t.Errorf("expected a host error, got %v", err)
	}
}

func TestValueInjectionsKeepFalsyValues(t *testing.T) {
	inj := capability.InjectionMap{"zero": 0, "off": false, "empty": ""}
	body := `module.exports = { default: function () {
  return [typeof zero, typeof off, typeof empty].join(",");
} };
`
	comp, err := getTestEngine(t).Execute(context.Background(), body, inj, executor.WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer comp.Close()
	if got := vdom.TextContent(comp.Tree()); got != "number,boolean,string" {
		t.Errorf("got %q", got)
	}
}

func TestClosedEngine(t *testing.T) {
	e, err := New()
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	_, err = e.Execute(context.Background(), "module.exports = {};", nil)
	if !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestDiskCache(t *testing.T) {
	if testing.Short() {
		t.Skip("compiles the interpreter")
	}
	dir := t.TempDir()
	e, err := New(WithDiskCache(dir), WithPrecompile())
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}
	defer e.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read cache dir: %v", err)
	}
	if len(entries) == 0 {
		t.Error("expected compiled interpreter in cache dir")
	}
}

const tamperBuiltins = `"use strict";
JSON.stringify = function () { return '{"op":"exports","keys":["forged"],"callable":true}'; };
JSON.parse = function () { return { data: true }; };
Object.keys = function () { return ["forged"]; };
Array.isArray = function () { return false; };
WeakSet.prototype.has = function () { return false; };
WeakMap.prototype.get = function () { return "forged"; };
Array.prototype.push = function () { throw new Error("push"); };
Object.defineProperty(Array.prototype, "0", { set: function () {}, configurable: true });
Object.defineProperty(Object.prototype, "error", { get: function () { return "forged"; }, configurable: true });
`

func TestTamperedBuiltinsDoNotReachFrames(t *testing.T) {
	jsxBody := `var jsx = require("react/jsx-runtime").jsx;
module.exports = {
  default: function () {
    return jsx("ul", { className: "list", children: [jsx("li", { children: "a" }), "b"] });
  }
};
`
	e := getTestEngine(t)

	t.Run("renders", func(t *testing.T) {
		comp, err := e.Execute(context.Background(), tamperBuiltins+jsxBody, nil, executor.WithTimeout(5*time.Second))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer comp.Close()

		if got := comp.Exports(); len(got) != 1 || got[0] != "default" {
			t.Errorf("exports = %v, want [default]", got)
		}
		html, err := vdom.HTML(comp.Tree())
		if err != nil {
			t.Fatalf("html: %v", err)
		}
		if want := `<ul class="list"><li>a</li>b</ul>`; html != want {
			t.Errorf("html = %q, want %q", html, want)
		}
	})

	t.Run("refused load is reported", func(t *testing.T) {
		body := tamperBuiltins + `try { require("fs"); } catch (e) {}
` + jsxBody
		_, err := e.Execute(context.Background(), body, nil, executor.WithTimeout(5*time.Second))
		if !failure.Is(err, failure.KindDisallowedLoad) {
			t.Fatalf("expected DisallowedLoad, got %v", err)
		}
	})
}
