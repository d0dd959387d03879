package transform

import (
	"context"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/caffeineduck/jsxbox/failure"
)

// Compiler turns sanitized component source into an executable CommonJS
// body.
type Compiler interface {
	Compile(ctx context.Context, source string) (string, error)
}

const (
	DefaultJSXImportSource = "react"
	DefaultSourcefile      = "component.tsx"
)

type Option func(*ESBuild)

// WithTarget sets the language level of the emitted body. Engines without
// full ES2020+ support need an older target.
func WithTarget(t api.Target) Option {
	return func(c *ESBuild) {
		c.target = t
	}
}

// WithSourcefile sets the file name used in diagnostics.
func WithSourcefile(name string) Option {
	return func(c *ESBuild) {
		c.sourcefile = name
	}
}

// WithDevelopmentJSX emits react/jsx-dev-runtime calls.
func WithDevelopmentJSX() Option {
	return func(c *ESBuild) {
		c.dev = true
	}
}

// ESBuild is a Compiler backed by esbuild's transform API.
type ESBuild struct {
	target     api.Target
	sourcefile string
	dev        bool
}

func New(opts ...Option) *ESBuild {
	c := &ESBuild{
		target:     api.ES2017,
		sourcefile: DefaultSourcefile,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ESBuild) Compile(ctx context.Context, source string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	result := api.Transform(source, api.TransformOptions{
		Loader:          api.LoaderTSX,
		Format:          api.FormatCommonJS,
		Target:          c.target,
		JSX:             api.JSXAutomatic,
		JSXImportSource: DefaultJSXImportSource,
		JSXDev:          c.dev,
		Sourcefile:      c.sourcefile,
		Platform:        api.PlatformNeutral,
		LogLevel:        api.LogLevelSilent,
	})

	if len(result.Errors) > 0 {
		msgs := api.FormatMessages(result.Errors, api.FormatMessagesOptions{
			Kind: api.ErrorMessage,
		})
		line, col := 0, 0
		if loc := result.Errors[0].Location; loc != nil {
			line, col = loc.Line, loc.Column+1
		}
		return "", failure.CompileError(strings.TrimSpace(strings.Join(msgs, "")), line, col)
	}

	code := string(result.Code)
	if strings.TrimSpace(code) == "" {
		return "", failure.NoOutputProduced()
	}
	return code, nil
}
