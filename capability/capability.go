package capability

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
)

// Default is the export name under which a module's default export is
// registered.
const Default = "default"

// Func is a host function. Sandboxed code calls it with a single object
// argument, which arrives here as args.
type Func func(ctx context.Context, args map[string]any) (any, error)

// Module maps export names to capability values.
type Module map[string]any

// InjectionMap binds local identifiers of one source file to capability
// values. It is built per render attempt.
type InjectionMap map[string]any

// Names returns the bound identifiers in sorted order.
func (m InjectionMap) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	ErrEmptyModuleID = errors.New("capability: empty module id")
	ErrEmptyExport   = errors.New("capability: empty export name")
	ErrNilValue      = errors.New("capability: nil value")
)

// Registry is the immutable table of (module, export) -> capability value.
// A nil *Registry is a valid, empty registry.
type Registry struct {
	modules map[string]Module
}

// New copies modules into a new registry. Nil values are rejected: every
// entry must be a fully realized value.
func New(modules map[string]Module) (*Registry, error) {
	r := &Registry{modules: make(map[string]Module, len(modules))}
	for id, m := range modules {
		if err := r.add(id, m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MustNew is New for statically known tables.
func MustNew(modules map[string]Module) *Registry {
	r, err := New(modules)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) add(id string, m Module) error {
	if id == "" {
		return ErrEmptyModuleID
	}
	cp := make(Module, len(m))
	for name, v := range m {
		if name == "" {
			return fmt.Errorf("module %q: %w", id, ErrEmptyExport)
		}
		if isNil(v) {
			return fmt.Errorf("module %q export %q: %w", id, name, ErrNilValue)
		}
		cp[name] = v
	}
	r.modules[id] = cp
	return nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Func, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// Lookup returns the value granted under moduleID/exportName.
func (r *Registry) Lookup(moduleID, exportName string) (any, bool) {
	if r == nil {
		return nil, false
	}
	m, ok := r.modules[moduleID]
	if !ok {
		return nil, false
	}
	v, ok := m[exportName]
	return v, ok
}

// HasModule reports whether any export of moduleID is granted.
func (r *Registry) HasModule(moduleID string) bool {
	if r == nil {
		return false
	}
	_, ok := r.modules[moduleID]
	return ok
}

// Modules lists the registered module specifiers in sorted order.
func (r *Registry) Modules() []string {
	if r == nil {
		return nil
	}
	ids := make([]string, 0, len(r.modules))
	for id := range r.modules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Exports lists the granted export names of moduleID in sorted order.
func (r *Registry) Exports(moduleID string) []string {
	if r == nil {
		return nil
	}
	m := r.modules[moduleID]
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered modules.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.modules)
}

// With returns a new registry that also grants m under moduleID, replacing
// any previous grant for that module. r is left untouched.
func (r *Registry) With(moduleID string, m Module) (*Registry, error) {
	next := &Registry{modules: make(map[string]Module, r.Len()+1)}
	if r != nil {
		for id, existing := range r.modules {
			next.modules[id] = existing
		}
	}
	if err := next.add(moduleID, m); err != nil {
		return nil, err
	}
	return next, nil
}

// Builder accumulates grants for a registry. The first invalid grant is
// reported by Build.
type Builder struct {
	modules map[string]Module
	err     error
}

func NewBuilder() *Builder {
	return &Builder{modules: make(map[string]Module)}
}

// Register grants value under moduleID/exportName.
func (b *Builder) Register(moduleID, exportName string, value any) *Builder {
	if b.err != nil {
		return b
	}
	m, ok := b.modules[moduleID]
	if !ok {
		m = make(Module)
		b.modules[moduleID] = m
	}
	if exportName == "" {
		b.err = fmt.Errorf("module %q: %w", moduleID, ErrEmptyExport)
		return b
	}
	m[exportName] = value
	return b
}

// Module grants every export of m under moduleID.
func (b *Builder) Module(moduleID string, m Module) *Builder {
	for name, v := range m {
		b.Register(moduleID, name, v)
	}
	if len(m) == 0 && b.err == nil {
		if _, ok := b.modules[moduleID]; !ok {
			b.modules[moduleID] = make(Module)
		}
	}
	return b
}

func (b *Builder) Build() (*Registry, error) {
	if b.err != nil {
		return nil, b.err
	}
	return New(b.modules)
}
