package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"github.com/caffeineduck/jsxbox/capability"
	"github.com/caffeineduck/jsxbox/executor"
	"github.com/caffeineduck/jsxbox/failure"
	"github.com/caffeineduck/jsxbox/sandbox"
	"github.com/caffeineduck/jsxbox/source"
	"github.com/caffeineduck/jsxbox/vdom"
)

var button = vdom.Intrinsic{Tag: "button", Attrs: map[string]string{"class": "ui-button"}}

func testRegistry() *capability.Registry {
	return capability.MustNew(map[string]capability.Module{
		"@docs/ui": {"Button": button},
	})
}

func newRenderer(opts ...Option) *Renderer {
	return New(testRegistry(), sandbox.New(), opts...)
}

func document(t *testing.T, comp executor.Component) *goquery.Document {
	t.Helper()
	out, err := vdom.HTML(comp.Tree())
	require.NoError(t, err)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(out))
	require.NoError(t, err)
	return doc
}

func TestGrantedImportRenders(t *testing.T) {
	r := newRenderer()
	src := `import { Button } from "@docs/ui";

export default function Demo() {
  return <Button type="submit">Save</Button>;
}
`
	res, err := r.Check(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, capability.InjectionMap{"Button": button}, res.Injections)
	assert.NotContains(t, res.Source, "import")

	comp, err := r.Render(context.Background(), src)
	require.NoError(t, err)
	defer comp.Close()

	sel := document(t, comp).Find("button.ui-button")
	require.Equal(t, 1, sel.Length())
	assert.Equal(t, "Save", sel.Text())
	typ, _ := sel.Attr("type")
	assert.Equal(t, "submit", typ)
}

func TestUngrantedExport(t *testing.T) {
	_, err := newRenderer().Render(context.Background(), `import { Foo } from "@docs/ui";
export default () => <Foo />;
`)
	require.Error(t, err)

	errs := failure.All(err)
	require.Len(t, errs, 1)
	assert.Equal(t, failure.KindExportNotAllowed, errs[0].Kind)
	assert.Equal(t, "@docs/ui", errs[0].Module)
	assert.Equal(t, "Foo", errs[0].Export)
	assert.Equal(t, "Foo", errs[0].Local)
}

func TestNamespaceImportFailsEvenIfUnused(t *testing.T) {
	_, err := newRenderer().Render(context.Background(), `import * as Everything from "@docs/ui";
export default () => <p>unused</p>;
`)
	require.Error(t, err)
	assert.Equal(t, failure.KindDisallowedImportForm, failure.KindOf(err))
}

func TestInfiniteLoopTimesOut(t *testing.T) {
	var states []executor.State
	start := time.Now()
	comp, err := newRenderer().Render(context.Background(),
		`export default function Component() { while (true) {} }`,
		executor.WithStateHook(func(s executor.State) { states = append(states, s) }))

	assert.Nil(t, comp)
	var fe *failure.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, failure.KindExecutionTimeout, fe.Kind)
	assert.Equal(t, int64(250), fe.Deadline.Milliseconds())
	assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond)
	require.NotEmpty(t, states)
	assert.Equal(t, executor.StateTimedOut, states[len(states)-1])
}

func TestNoDefaultExport(t *testing.T) {
	_, err := newRenderer().Render(context.Background(), `export const code = "const x = 1";`)
	var fe *failure.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, failure.KindInvalidExportShape, fe.Kind)
	assert.Equal(t, []string{"code"}, fe.Exports)
}

func TestTypeOnlyImport(t *testing.T) {
	r := newRenderer()
	src := `import type { X } from "y";
export default (props: X) => <p>typed</p>;
`
	res, err := r.Check(context.Background(), src)
	require.NoError(t, err)
	assert.Empty(t, res.Injections)

	comp, err := r.Render(context.Background(), src)
	require.NoError(t, err)
	defer comp.Close()
	assert.Equal(t, "typed", document(t, comp).Find("p").Text())
}

func TestUndeclaredIdentifierIsReferenceFailure(t *testing.T) {
	_, err := newRenderer().Render(context.Background(), `export default () => <p>{fetchSecrets()}</p>;`)
	require.Error(t, err)
	assert.Equal(t, failure.KindRuntimeError, failure.KindOf(err))
	assert.Contains(t, err.Error(), "fetchSecrets")
}

func TestIdempotentOutcome(t *testing.T) {
	r := newRenderer()
	sources := []string{
		`import { Button } from "@docs/ui"; export default () => <Button />;`,
		`import { Nope } from "@docs/ui"; export default () => null;`,
		`import * as UI from "@docs/ui"; export default () => null;`,
		`export const code = "x";`,
		`export default () => { throw new Error("boom"); };`,
	}
	for _, src := range sources {
		_, first := r.Render(context.Background(), src)
		_, second := r.Render(context.Background(), src)
		assert.Equal(t, first == nil, second == nil, src)
		assert.Equal(t, failure.KindOf(first), failure.KindOf(second), src)
	}
}

func TestWithRegistry(t *testing.T) {
	r := newRenderer()
	src := `import { Badge } from "@docs/ui"; export default () => <Badge>new</Badge>;`

	_, err := r.Render(context.Background(), src)
	require.Equal(t, failure.KindExportNotAllowed, failure.KindOf(err))

	reg, err := r.Registry().With("@docs/ui", capability.Module{
		"Badge": vdom.Intrinsic{Tag: "span", Attrs: map[string]string{"class": "badge"}},
	})
	require.NoError(t, err)

	comp, err := r.WithRegistry(reg).Render(context.Background(), src)
	require.NoError(t, err)
	defer comp.Close()
	assert.Equal(t, 1, document(t, comp).Find("span.badge").Length())

	_, err = r.Render(context.Background(), src)
	assert.Equal(t, failure.KindExportNotAllowed, failure.KindOf(err))
}

func TestRenderNamed(t *testing.T) {
	dir := t.TempDir()
	writeComponent(t, dir, "Hello.tsx", `export default ({ who = "world" }: { who?: string }) => <h1>Hello, {who}</h1>;`)

	r := newRenderer(WithResolver(source.NewDir(dir)))
	comp, err := r.RenderNamed(context.Background(), "Hello", executor.WithProps(map[string]any{"who": "docs"}))
	require.NoError(t, err)
	defer comp.Close()
	assert.Equal(t, "Hello, docs", document(t, comp).Find("h1").Text())

	_, err = r.RenderNamed(context.Background(), "Missing")
	assert.ErrorIs(t, err, source.ErrNotFound)

	_, err = newRenderer().RenderNamed(context.Background(), "Hello")
	assert.ErrorIs(t, err, ErrNoResolver)
}

func TestCompileErrorFromTransformer(t *testing.T) {
	_, err := newRenderer(WithCompiler(failingCompiler{})).Render(context.Background(), `export default () => null;`)
	assert.Equal(t, failure.KindNoOutputProduced, failure.KindOf(err))
}

type failingCompiler struct{}

func (failingCompiler) Compile(ctx context.Context, src string) (string, error) {
	return "", failure.NoOutputProduced()
}

func TestExecuteOptionsApplied(t *testing.T) {
	r := newRenderer(WithExecuteOptions(executor.WithTimeout(50 * time.Millisecond)))
	_, err := r.Render(context.Background(), `export default () => { while (true) {} };`)
	var fe *failure.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 50*time.Millisecond, fe.Deadline)

	_, err = r.Render(context.Background(), `export default () => { while (true) {} };`,
		executor.WithTimeout(80*time.Millisecond))
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 80*time.Millisecond, fe.Deadline)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	r := newRenderer(WithMetrics(m))

	comp, err := r.Render(context.Background(), `import { Button } from "@docs/ui"; export default () => <Button />;`)
	require.NoError(t, err)
	comp.Close()
	_, err = r.Render(context.Background(), `import { A, B } from "@docs/ui"; export default () => null;`)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Attempts.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Attempts.WithLabelValues("ExportNotAllowed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Violations.WithLabelValues("ExportNotAllowed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InFlight))
	assert.Equal(t, 3, testutil.CollectAndCount(m.StageDuration, "jsxbox_stage_duration_seconds"))
}

func TestCheckCountsOnlyImportViolations(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	r := newRenderer(WithMetrics(m))

	_, err := r.Check(context.Background(), `export default function ( { return <div>; }`)
	require.True(t, failure.Is(err, failure.KindCompileError), "got %v", err)
	assert.Equal(t, 0, testutil.CollectAndCount(m.Violations, "jsxbox_import_violations_total"))

	_, err = r.Check(context.Background(), `import * as UI from "@docs/ui"; export default () => null;`)
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Violations.WithLabelValues("DisallowedImportForm")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Violations.WithLabelValues("CompileError")))
}

func TestAttemptLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	r := newRenderer(WithLogger(zap.New(core)))

	comp, err := r.Render(context.Background(), `export default () => { console.log("hi from", "sandbox"); return null; };`)
	require.NoError(t, err)
	comp.Close()

	completed := logs.FilterMessage("render completed").All()
	require.Len(t, completed, 1)
	id, ok := completed[0].ContextMap()["attempt_id"].(string)
	require.True(t, ok)
	assert.NotEmpty(t, id)

	console := logs.FilterMessage("sandbox console").All()
	require.Len(t, console, 1)
	assert.Equal(t, id, console[0].ContextMap()["attempt_id"])
	assert.Equal(t, "hi from sandbox", console[0].ContextMap()["message"])
}

func TestConcurrentRenders(t *testing.T) {
	r := newRenderer()
	var g errgroup.Group
	var mu sync.Mutex
	outputs := make(map[string]bool)

	for i := 0; i < 16; i++ {
		g.Go(func() error {
			comp, err := r.Render(context.Background(), `import { Button } from "@docs/ui";
let n = 0;
export default () => <Button>{++n}</Button>;
`)
			if err != nil {
				return err
			}
			defer comp.Close()
			out, err := vdom.HTML(comp.Tree())
			if err != nil {
				return err
			}
			mu.Lock()
			outputs[out] = true
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, map[string]bool{`<button class="ui-button">1</button>`: true}, outputs)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newRenderer().Render(ctx, `export default () => null;`)
	assert.ErrorIs(t, err, context.Canceled)
}
