package binder

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/typescript/tsx"

	"github.com/caffeineduck/jsxbox/capability"
	"github.com/caffeineduck/jsxbox/failure"
)

// Binding is one accepted import specifier: the local identifier and the
// registry entry it refers to. Line and Column are 1-based.
type Binding struct {
	Module string
	Export string
	Local  string
	Line   int
	Column int
}

// Result is the outcome of a successful Bind.
type Result struct {
	// Source is the input with every import declaration removed. Each
	// removed declaration leaves behind as many newlines as it spanned.
	Source     string
	Injections capability.InjectionMap
	Bindings   []Binding
}

// Bind resolves the import declarations of src against reg.
//
// All violations in the file are collected. Namespace imports are checked
// first; if any is present Bind fails with those alone, since no binding
// from such a file is honored. Otherwise every binding is resolved and the
// full list of unresolved modules and exports is returned.
func Bind(ctx context.Context, src string, reg *capability.Registry) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	code := []byte(src)

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(tsx.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, code)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, syntaxError(root, code)
	}

	var (
		bindings []Binding
		forms    failure.Violations
		removed  [][2]uint32
	)
	for i := 0; i < int(root.NamedChildCount()); i++ {
		stmt := root.NamedChild(i)
		if stmt.Type() != "import_statement" {
			continue
		}
		removed = append(removed, [2]uint32{stmt.StartByte(), stmt.EndByte()})

		d := scanImport(stmt, code)
		bindings = append(bindings, d.bindings...)
		forms = append(forms, d.forms...)
	}

	if len(forms) > 0 {
		return nil, forms
	}

	injections := make(capability.InjectionMap, len(bindings))
	var violations failure.Violations
	for _, b := range bindings {
		if !reg.HasModule(b.Module) {
			violations = append(violations, failure.ModuleNotAllowed(b.Module, b.Line, b.Column))
			continue
		}
		v, ok := reg.Lookup(b.Module, b.Export)
		if !ok {
			violations = append(violations, failure.ExportNotAllowed(b.Module, b.Export, b.Local, b.Line, b.Column))
			continue
		}
		injections[b.Local] = v
	}
	if len(violations) > 0 {
		return nil, violations
	}

	return &Result{
		Source:     strip(code, removed),
		Injections: injections,
		Bindings:   bindings,
	}, nil
}

type declaration struct {
	bindings []Binding
	forms    failure.Violations
}

func scanImport(stmt *sitter.Node, code []byte) declaration {
	var d declaration

	src := stmt.ChildByFieldName("source")
	module := ""
	if src != nil {
		module = unquote(src.Content(code))
	}

	if hasKeyword(stmt, "type", "typeof") {
		return d
	}

	for i := 0; i < int(stmt.NamedChildCount()); i++ {
		child := stmt.NamedChild(i)
		switch child.Type() {
		case "import_clause":
			scanClause(child, module, code, &d)
		case "import_require_clause":
			// import x = require("m") binds the whole module.
			local := ""
			if id := firstNamed(child, "identifier"); id != nil {
				local = id.Content(code)
			}
			if req := child.ChildByFieldName("source"); req != nil {
				module = unquote(req.Content(code))
			}
			line, col := position(child)
			d.forms = append(d.forms, failure.DisallowedImportForm(module, local, line, col))
		}
	}
	return d
}

func scanClause(clause *sitter.Node, module string, code []byte, d *declaration) {
	for i := 0; i < int(clause.NamedChildCount()); i++ {
		part := clause.NamedChild(i)
		switch part.Type() {
		case "identifier":
			line, col := position(part)
			d.bindings = append(d.bindings, Binding{
				Module: module,
				Export: capability.Default,
				Local:  part.Content(code),
				Line:   line,
				Column: col,
			})
		case "namespace_import":
			local := ""
			if id := firstNamed(part, "identifier"); id != nil {
				local = id.Content(code)
			}
			line, col := position(part)
			d.forms = append(d.forms, failure.DisallowedImportForm(module, local, line, col))
		case "named_imports":
			for j := 0; j < int(part.NamedChildCount()); j++ {
				spec := part.NamedChild(j)
				if spec.Type() != "import_specifier" || hasKeyword(spec, "type", "typeof") {
					continue
				}
				name := spec.ChildByFieldName("name")
				if name == nil {
					continue
				}
				b := Binding{Module: module, Export: unquote(name.Content(code))}
				b.Local = b.Export
				if alias := spec.ChildByFieldName("alias"); alias != nil {
					b.Local = alias.Content(code)
				}
				b.Line, b.Column = position(spec)
				d.bindings = append(d.bindings, b)
			}
		}
	}
}

// hasKeyword reports whether n has an anonymous child token of one of the
// given kinds, as in `import type {...}` or `{ type X }`.
func hasKeyword(n *sitter.Node, kinds ...string) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c.IsNamed() {
			continue
		}
		for _, k := range kinds {
			if c.Type() == k {
				return true
			}
		}
	}
	return false
}

func firstNamed(n *sitter.Node, kind string) *sitter.Node {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c.Type() == kind {
			return c
		}
	}
	return nil
}

func position(n *sitter.Node) (int, int) {
	p := n.StartPoint()
	return int(p.Row) + 1, int(p.Column) + 1
}

func unquote(s string) string {
	if len(s) >= 2 {
		switch s[0] {
		case '"', '\'', '`':
			if s[len(s)-1] == s[0] {
				return s[1 : len(s)-1]
			}
		}
	}
	return s
}

// strip removes the byte ranges in removed (sorted, non-overlapping),
// keeping their newlines.
func strip(code []byte, removed [][2]uint32) string {
	var b strings.Builder
	b.Grow(len(code))
	var last uint32
	for _, r := range removed {
		b.Write(code[last:r[0]])
		b.WriteString(strings.Repeat("\n", strings.Count(string(code[r[0]:r[1]]), "\n")))
		last = r[1]
	}
	b.Write(code[last:])
	return b.String()
}

func syntaxError(root *sitter.Node, code []byte) error {
	bad := firstError(root)
	if bad == nil {
		return failure.CompileError("syntax error", 0, 0)
	}
	line, col := position(bad)
	if bad.IsMissing() {
		return failure.CompileError(fmt.Sprintf("syntax error: missing %q", bad.Type()), line, col)
	}
	text := bad.Content(code)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	if len(text) > 40 {
		text = text[:40] + "..."
	}
	return failure.CompileError(fmt.Sprintf("syntax error near %q", text), line, col)
}

func firstError(n *sitter.Node) *sitter.Node {
	if n.Type() == "ERROR" || n.IsMissing() {
		return n
	}
	if !n.HasError() {
		return nil
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if bad := firstError(n.Child(i)); bad != nil {
			return bad
		}
	}
	return nil
}
