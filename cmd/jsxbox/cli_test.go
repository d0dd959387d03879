package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const testManifest = `modules:
  "@docs/ui":
    exports:
      Button: {kind: intrinsic, tag: button, attrs: {class: ui-button}}
      version: {kind: value, value: "2.1.0"}
  "@docs/format":
    builtin: format
    config: {locale: en}
`

func executeCommand(root *cobra.Command, args ...string) (string, string, error) {
	resetFlags(root)
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

// resetFlags undoes flag values left over from earlier Execute calls.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// workspace creates a project directory with a manifest and components and
// makes it the working directory.
func workspace(t *testing.T, components map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "capabilities.yaml"), []byte(testManifest), 0o644); err != nil {
		t.Fatal(err)
	}
	for name, src := range components {
		path := filepath.Join(dir, "components", name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	t.Chdir(dir)
	return dir
}

func TestCLIHelp(t *testing.T) {
	output, _, err := executeCommand(rootCmd, "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedPhrases := []string{
		"jsxbox",
		"TSX",
		"--engine",
		"render",
		"check",
		"caps",
		"serve",
		"repl",
	}

	for _, phrase := range expectedPhrases {
		if !strings.Contains(output, phrase) {
			t.Errorf("help output should contain %q", phrase)
		}
	}
}

func TestCLISubcommandHelp(t *testing.T) {
	tests := []struct {
		args    []string
		phrases []string
	}{
		{[]string{"render", "--help"}, []string{"--code", "--name", "--props", "--json", "--timeout"}},
		{[]string{"check", "--help"}, []string{"--all", "--jobs", "--manifest"}},
		{[]string{"serve", "--help"}, []string{"--addr", "/components", "/render", "/health", "/metrics"}},
		{[]string{"repl", "--help"}, []string{"--history", "Command history", "blank line"}},
	}

	for _, tt := range tests {
		t.Run(tt.args[0], func(t *testing.T) {
			output, _, err := executeCommand(rootCmd, tt.args...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for _, phrase := range tt.phrases {
				if !strings.Contains(output, phrase) {
					t.Errorf("%s help should contain %q", tt.args[0], phrase)
				}
			}
		})
	}
}

func TestCLIRenderInline(t *testing.T) {
	workspace(t, nil)

	out, _, err := executeCommand(rootCmd, "render", "-c",
		`import { Button } from "@docs/ui"; export default () => <Button>Go</Button>;`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, `<button class="ui-button">Go</button>`) {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestCLIRenderFile(t *testing.T) {
	dir := workspace(t, nil)
	file := filepath.Join(dir, "Hello.tsx")
	os.WriteFile(file, []byte(`export default ({ who }: { who: string }) => <p>Hi {who}</p>;`), 0o644)

	out, _, err := executeCommand(rootCmd, "render", file, "--props", `{"who":"docs"}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "<p>Hi docs</p>") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestCLIRenderNamedJSON(t *testing.T) {
	workspace(t, map[string]string{
		"forms/Field.tsx": `export default () => <label htmlFor="q">Query</label>;`,
	})

	out, _, err := executeCommand(rootCmd, "render", "--name", "forms/Field", "--json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{`"tag": "label"`, `"for": "q"`, `"text": "Query"`} {
		if !strings.Contains(out, want) {
			t.Errorf("JSON output should contain %s, got %s", want, out)
		}
	}
}

func TestCLIRenderFailure(t *testing.T) {
	workspace(t, nil)

	_, stderr, err := executeCommand(rootCmd, "render", "-c",
		`import { Foo } from "@docs/ui"; import { Bar } from "@docs/secret"; export default () => null;`)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"ExportNotAllowed", "Foo", "ModuleNotAllowed", "@docs/secret"} {
		if !strings.Contains(stderr, want) {
			t.Errorf("stderr should contain %q, got %q", want, stderr)
		}
	}
}

func TestCLIRenderSanitizes(t *testing.T) {
	workspace(t, nil)
	src := `export default () => <a href="javascript:alert(1)">x</a>;`

	out, _, err := executeCommand(rootCmd, "render", "-c", src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out, "javascript:") {
		t.Errorf("sanitized output kept a javascript URL: %q", out)
	}

	out, _, err = executeCommand(rootCmd, "render", "--no-sanitize", "-c", src)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "javascript:") {
		t.Errorf("unsanitized output should keep the markup: %q", out)
	}
}

func TestCLICheck(t *testing.T) {
	workspace(t, nil)

	out, _, err := executeCommand(rootCmd, "check", "-c", `import type { X } from "y"; export default () => null;`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(out) != "ok" {
		t.Errorf("expected ok, got %q", out)
	}

	_, stderr, err := executeCommand(rootCmd, "check", "-c", `import * as UI from "@docs/ui";`)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(stderr, "DisallowedImportForm") {
		t.Errorf("stderr should report the namespace import, got %q", stderr)
	}
}

func TestCLICheckAll(t *testing.T) {
	workspace(t, map[string]string{
		"Good.tsx":     `import { Button } from "@docs/ui"; export default () => <Button />;`,
		"bad/Evil.tsx": `import { exec } from "child_process"; export default () => null;`,
	})

	out, stderr, err := executeCommand(rootCmd, "check", "--all")
	if err == nil {
		t.Fatal("expected error for failing component")
	}
	if !strings.Contains(out, "ok    Good") || !strings.Contains(out, "FAIL  bad/Evil") {
		t.Errorf("unexpected summary: %q", out)
	}
	if !strings.Contains(stderr, "child_process") {
		t.Errorf("stderr should name the module, got %q", stderr)
	}
}

func TestCLICaps(t *testing.T) {
	workspace(t, nil)

	out, _, err := executeCommand(rootCmd, "caps")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"@docs/format", "@docs/ui", "intrinsic <button>", `value "2.1.0"`, "function"} {
		if !strings.Contains(out, want) {
			t.Errorf("caps output should contain %q, got %q", want, out)
		}
	}
}

func TestCLICapsWithoutManifest(t *testing.T) {
	t.Chdir(t.TempDir())

	out, _, err := executeCommand(rootCmd, "caps")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "no capabilities granted") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestCLIInvalidEngine(t *testing.T) {
	workspace(t, nil)

	_, _, err := executeCommand(rootCmd, "render", "--engine", "v8", "-c", `export default () => null;`)
	if err == nil || !strings.Contains(err.Error(), "render.engine") {
		t.Fatalf("expected engine validation error, got %v", err)
	}
}

func TestCLIConfigFile(t *testing.T) {
	dir := workspace(t, nil)
	cfg := filepath.Join(dir, "custom.yaml")
	os.WriteFile(cfg, []byte("render:\n  timeout: 50ms\n"), 0o644)

	_, stderr, err := executeCommand(rootCmd, "render", "--config", cfg, "-c", `export default () => { while (true) {} };`)
	if err == nil {
		t.Fatal("expected timeout")
	}
	if !strings.Contains(stderr, "ExecutionTimeout") || !strings.Contains(stderr, "50ms") {
		t.Errorf("unexpected stderr: %q", stderr)
	}
}
