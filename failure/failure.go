package failure

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind identifies one failure class of a render attempt.
type Kind int

const (
	KindUnknown Kind = iota
	KindDisallowedImportForm
	KindModuleNotAllowed
	KindExportNotAllowed
	KindCompileError
	KindNoOutputProduced
	KindExecutionTimeout
	KindInvalidExportShape
	KindDisallowedLoad
	KindRuntimeError
)

var kindNames = map[Kind]string{
	KindUnknown:              "Unknown",
	KindDisallowedImportForm: "DisallowedImportForm",
	KindModuleNotAllowed:     "ModuleNotAllowed",
	KindExportNotAllowed:     "ExportNotAllowed",
	KindCompileError:         "CompileError",
	KindNoOutputProduced:     "NoOutputProduced",
	KindExecutionTimeout:     "ExecutionTimeout",
	KindInvalidExportShape:   "InvalidExportShape",
	KindDisallowedLoad:       "DisallowedLoad",
	KindRuntimeError:         "RuntimeError",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MarshalText lets kinds appear by name in JSON payloads and metric labels.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Error is a single render failure. Which fields are set depends on Kind.
type Error struct {
	Kind     Kind          `json:"kind"`
	Module   string        `json:"module,omitempty"`
	Export   string        `json:"export,omitempty"`
	Local    string        `json:"local,omitempty"`
	Message  string        `json:"message,omitempty"`
	Deadline time.Duration `json:"-"`
	Exports  []string      `json:"exports,omitempty"`
	Argument string        `json:"argument,omitempty"`
	Line     int           `json:"line,omitempty"`
	Column   int           `json:"column,omitempty"`
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Line > 0 {
		fmt.Fprintf(&b, " at %d:%d", e.Line, e.Column)
	}
	b.WriteString(": ")

	switch e.Kind {
	case KindDisallowedImportForm:
		if e.Local != "" {
			fmt.Fprintf(&b, "namespace import %q of module %q is not allowed", e.Local, e.Module)
		} else {
			fmt.Fprintf(&b, "whole-module import of %q is not allowed", e.Module)
		}
	case KindModuleNotAllowed:
		fmt.Fprintf(&b, "module %q is not allowed", e.Module)
	case KindExportNotAllowed:
		fmt.Fprintf(&b, "export %q of module %q is not allowed (imported as %q)", e.Export, e.Module, e.Local)
	case KindCompileError:
		b.WriteString(e.Message)
	case KindNoOutputProduced:
		b.WriteString("compiler produced no output")
	case KindExecutionTimeout:
		fmt.Fprintf(&b, "execution did not finish within %dms", e.Deadline.Milliseconds())
	case KindInvalidExportShape:
		fmt.Fprintf(&b, "default export is not callable; exports: [%s]", strings.Join(e.Exports, ", "))
	case KindDisallowedLoad:
		fmt.Fprintf(&b, "load of %q is not allowed", e.Argument)
	default:
		b.WriteString(e.Message)
	}
	return b.String()
}

// MarshalJSON adds the rendered message and the deadline in milliseconds.
func (e *Error) MarshalJSON() ([]byte, error) {
	type plain Error
	out := struct {
		*plain
		Exports    *[]string `json:"exports,omitempty"`
		DeadlineMs int64     `json:"deadline_ms,omitempty"`
		Error      string    `json:"error"`
	}{
		plain:      (*plain)(e),
		DeadlineMs: e.Deadline.Milliseconds(),
		Error:      e.Error(),
	}
	if e.Kind == KindInvalidExportShape {
		exports := e.Exports
		if exports == nil {
			exports = []string{}
		}
		out.Exports = &exports
	} else if len(e.Exports) > 0 {
		out.Exports = &e.Exports
	}
	return json.Marshal(out)
}

// Violations aggregates every import-stage failure of one source file.
type Violations []*Error

func (v Violations) Error() string {
	if len(v) == 1 {
		return v[0].Error()
	}
	lines := make([]string, 0, len(v)+1)
	lines = append(lines, fmt.Sprintf("%d import violations:", len(v)))
	for _, e := range v {
		lines = append(lines, "  "+e.Error())
	}
	return strings.Join(lines, "\n")
}

func (v Violations) Unwrap() []error {
	errs := make([]error, len(v))
	for i, e := range v {
		errs[i] = e
	}
	return errs
}

// KindOf reports the kind of err. Aggregated violations report the kind of
// their first entry.
func KindOf(err error) Kind {
	var vs Violations
	if errors.As(err, &vs) && len(vs) > 0 {
		return vs[0].Kind
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Is reports whether err is, or aggregates, a failure of the given kind.
func Is(err error, kind Kind) bool {
	var vs Violations
	if errors.As(err, &vs) {
		for _, e := range vs {
			if e.Kind == kind {
				return true
			}
		}
		return false
	}
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == kind
}

// All flattens err into its failure entries.
func All(err error) []*Error {
	var vs Violations
	if errors.As(err, &vs) {
		return vs
	}
	var fe *Error
	if errors.As(err, &fe) {
		return []*Error{fe}
	}
	return nil
}

func DisallowedImportForm(module, local string, line, col int) *Error {
	return &Error{Kind: KindDisallowedImportForm, Module: module, Local: local, Line: line, Column: col}
}

func ModuleNotAllowed(module string, line, col int) *Error {
	return &Error{Kind: KindModuleNotAllowed, Module: module, Line: line, Column: col}
}

func ExportNotAllowed(module, export, local string, line, col int) *Error {
	return &Error{Kind: KindExportNotAllowed, Module: module, Export: export, Local: local, Line: line, Column: col}
}

func CompileError(message string, line, col int) *Error {
	return &Error{Kind: KindCompileError, Message: message, Line: line, Column: col}
}

func NoOutputProduced() *Error {
	return &Error{Kind: KindNoOutputProduced}
}

func ExecutionTimeout(deadline time.Duration) *Error {
	return &Error{Kind: KindExecutionTimeout, Deadline: deadline}
}

// InvalidExportShape copies names so later mutation by the caller cannot
// change the diagnostic.
func InvalidExportShape(names []string) *Error {
	exports := make([]string, len(names))
	copy(exports, names)
	return &Error{Kind: KindInvalidExportShape, Exports: exports}
}

func DisallowedLoad(argument string) *Error {
	return &Error{Kind: KindDisallowedLoad, Argument: argument}
}

func RuntimeError(message string) *Error {
	return &Error{Kind: KindRuntimeError, Message: message}
}
