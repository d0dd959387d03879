package failure

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "namespace import",
			err:  DisallowedImportForm("@docs/ui", "Everything", 1, 8),
			want: `DisallowedImportForm at 1:8: namespace import "Everything" of module "@docs/ui" is not allowed`,
		},
		{
			name: "module",
			err:  ModuleNotAllowed("fs", 0, 0),
			want: `ModuleNotAllowed: module "fs" is not allowed`,
		},
		{
			name: "export",
			err:  ExportNotAllowed("@docs/ui", "Foo", "Bar", 2, 10),
			want: `ExportNotAllowed at 2:10: export "Foo" of module "@docs/ui" is not allowed (imported as "Bar")`,
		},
		{
			name: "timeout",
			err:  ExecutionTimeout(250 * time.Millisecond),
			want: "ExecutionTimeout: execution did not finish within 250ms",
		},
		{
			name: "export shape",
			err:  InvalidExportShape([]string{"code", "title"}),
			want: "InvalidExportShape: default export is not callable; exports: [code, title]",
		},
		{
			name: "load",
			err:  DisallowedLoad("fs"),
			want: `DisallowedLoad: load of "fs" is not allowed`,
		},
		{
			name: "no output",
			err:  NoOutputProduced(),
			want: "NoOutputProduced: compiler produced no output",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestViolationsAggregate(t *testing.T) {
	vs := Violations{
		ModuleNotAllowed("fs", 1, 1),
		ExportNotAllowed("@docs/ui", "Foo", "Foo", 2, 10),
	}
	var err error = fmt.Errorf("bind: %w", vs)

	assert.Equal(t, KindModuleNotAllowed, KindOf(err))
	assert.True(t, Is(err, KindExportNotAllowed))
	assert.False(t, Is(err, KindDisallowedImportForm))
	assert.Len(t, All(err), 2)
	assert.Contains(t, err.Error(), "2 import violations:")

	var fe *Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, KindModuleNotAllowed, fe.Kind)
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	assert.Nil(t, All(errors.New("boom")))
	assert.Equal(t, KindCompileError, KindOf(CompileError("x", 1, 1)))
}

func TestInvalidExportShapeCopiesNames(t *testing.T) {
	names := []string{"code"}
	err := InvalidExportShape(names)
	names[0] = "changed"
	assert.Equal(t, []string{"code"}, err.Exports)
}

func TestErrorJSON(t *testing.T) {
	data, err := json.Marshal(ExecutionTimeout(250 * time.Millisecond))
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "ExecutionTimeout", out["kind"])
	assert.Equal(t, float64(250), out["deadline_ms"])
	assert.Contains(t, out["error"], "250ms")

	data, err = json.Marshal(InvalidExportShape(nil))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, []any{}, out["exports"])
}
