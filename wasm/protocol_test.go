package wasm

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/caffeineduck/jsxbox/capability"
	"github.com/caffeineduck/jsxbox/executor"
)

func newTestBridge(t *testing.T, injections capability.InjectionMap) (*bridge, *bufio.Reader) {
	t.Helper()
	r, w := io.Pipe()
	t.Cleanup(func() {
		w.Close()
		r.Close()
	})
	return newBridge(context.Background(), injections, executor.NewConsole(nil), w, nil), bufio.NewReader(r)
}

func readResponse(t *testing.T, r *bufio.Reader) callResponse {
	t.Helper()
	line, err := r.ReadBytes('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	var resp callResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("decode response %q: %v", line, err)
	}
	return resp
}

func TestBridgeCapabilityCall(t *testing.T) {
	b, r := newTestBridge(t, capability.InjectionMap{
		"greet": capability.Func(func(ctx context.Context, args map[string]any) (any, error) {
			return "Hello, " + args["name"].(string) + "!", nil
		}),
		"fail": capability.Func(func(ctx context.Context, args map[string]any) (any, error) {
			return nil, errors.New("boom")
		}),
	})

	tests := []struct {
		name      string
		frame     string
		wantData  any
		wantError string
	}{
		{"success", `{"op":"cap","fn":"greet","args":{"name":"World"}}`, "Hello, World!", ""},
		{"error", `{"op":"cap","fn":"fail","args":{}}`, nil, "fail: boom"},
		{"unknown", `{"op":"cap","fn":"missing"}`, nil, "unknown function: missing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b.Write([]byte(protocolPrefix + tt.frame + protocolSuffix))
			resp := readResponse(t, r)
			if resp.Data != tt.wantData {
				t.Errorf("data = %v, want %v", resp.Data, tt.wantData)
			}
			if resp.Error != tt.wantError {
				t.Errorf("error = %q, want %q", resp.Error, tt.wantError)
			}
		})
	}
}

func TestBridgeSplitFrames(t *testing.T) {
	b, _ := newTestBridge(t, nil)

	full := "noise" + protocolPrefix + `{"op":"exports","keys":["default"],"callable":true}` + protocolSuffix + "tail"
	for i := 0; i < len(full); i += 7 {
		end := min(i+7, len(full))
		if _, err := b.Write([]byte(full[i:end])); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	out := b.outcome()
	if !out.sawExports || !out.callable {
		t.Fatalf("exports frame not handled: %+v", out)
	}
	if len(out.keys) != 1 || out.keys[0] != "default" {
		t.Errorf("keys = %v", out.keys)
	}
	if got := b.Stray(); got != "noisetail" {
		t.Errorf("stray = %q, want %q", got, "noisetail")
	}
}

func TestBridgePrefixSplitAcrossWrites(t *testing.T) {
	frame := protocolPrefix + `{"op":"load","id":"react/jsx-runtime"}` + protocolSuffix
	for cut := 1; cut < len(protocolPrefix); cut++ {
		b, r := newTestBridge(t, nil)
		b.Write([]byte("out" + frame[:cut]))
		b.Write([]byte(frame[cut:]))

		if resp := readResponse(t, r); resp.Error != "" || resp.Data != true {
			t.Errorf("cut %d: response = %+v", cut, resp)
		}
		if got := b.Stray(); got != "out" {
			t.Errorf("cut %d: stray = %q, want %q", cut, got, "out")
		}
	}
}

func TestPartialPrefix(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"plain", 0},
		{"text\x00", 1},
		{"text\x00JSX", 4},
		{"text\x00JSXBOX", 7},
		{"\x00JSXBOX:", 0},
		{"\x00JSXBOY", 0},
	}
	for _, tt := range tests {
		if got := partialPrefix(tt.in); got != tt.want {
			t.Errorf("partialPrefix(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestBridgeLoadRefusalIsSticky(t *testing.T) {
	b, r := newTestBridge(t, nil)

	b.Write([]byte(protocolPrefix + `{"op":"load","id":"react/jsx-runtime"}` + protocolSuffix))
	if resp := readResponse(t, r); resp.Error != "" {
		t.Fatalf("jsx runtime refused: %s", resp.Error)
	}

	b.Write([]byte(protocolPrefix + `{"op":"load","id":"fs"}` + protocolSuffix))
	if resp := readResponse(t, r); resp.Error == "" {
		t.Fatal("expected fs to be refused")
	}
	b.Write([]byte(protocolPrefix + `{"op":"load","id":"path"}` + protocolSuffix))
	readResponse(t, r)

	if got := b.outcome().disallowed; got != "fs" {
		t.Errorf("disallowed = %q, want fs", got)
	}
}

func TestBridgeLogAndFail(t *testing.T) {
	console := executor.NewConsole(nil)
	r, w := io.Pipe()
	defer r.Close()
	b := newBridge(context.Background(), nil, console, w, nil)

	b.Write([]byte(protocolPrefix + `{"op":"log","level":"warn","msg":"careful"}` + protocolSuffix +
		protocolPrefix + `{"op":"fail","stage":"render","message":"TypeError: x"}` + protocolSuffix +
		protocolPrefix + `{"op":"fail","stage":"execute","message":"later"}` + protocolSuffix))

	entries := console.Entries()
	if len(entries) != 1 || entries[0].Level != "warn" || entries[0].Message != "careful" {
		t.Errorf("entries = %+v", entries)
	}
	out := b.outcome()
	if out.failStage != "render" || out.failMsg != "TypeError: x" {
		t.Errorf("first failure not kept: %+v", out)
	}
}

func TestBridgeInvalidFrame(t *testing.T) {
	b, r := newTestBridge(t, nil)
	b.Write([]byte(protocolPrefix + `{invalid}` + protocolSuffix))
	if resp := readResponse(t, r); resp.Error != "invalid frame" {
		t.Errorf("error = %q, want invalid frame", resp.Error)
	}
}

func TestBridgeStrayIsBounded(t *testing.T) {
	b, _ := newTestBridge(t, nil)
	chunk := make([]byte, 1<<10)
	for i := range chunk {
		chunk[i] = 'x'
	}
	for i := 0; i < 100; i++ {
		b.Write(chunk)
	}
	if got := len(b.Stray()); got != maxStrayStderr {
		t.Errorf("stray length = %d, want %d", got, maxStrayStderr)
	}
}
