package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/caffeineduck/jsxbox/capability"
	"github.com/caffeineduck/jsxbox/executor"
	"github.com/caffeineduck/jsxbox/internal/config"
	"github.com/caffeineduck/jsxbox/internal/logging"
	"github.com/caffeineduck/jsxbox/pipeline"
	"github.com/caffeineduck/jsxbox/sandbox"
	"github.com/caffeineduck/jsxbox/source"
	"github.com/caffeineduck/jsxbox/vdom"
	"github.com/caffeineduck/jsxbox/wasm"
)

// flagKeys maps config keys to the flags that override them.
var flagKeys = map[string]string{
	"render.engine":         "engine",
	"render.timeout":        "timeout",
	"components.dir":        "components",
	"capabilities.manifest": "manifest",
	"log.level":             "log-level",
	"server.addr":           "addr",
}

var rootCmd = &cobra.Command{
	Use:   "jsxbox",
	Short: "Sandboxed renderer for untrusted TSX components",
	Long: `jsxbox - Render untrusted TSX documentation components safely.

Components may only import what the capability manifest grants. Imports are
checked before anything runs, the component is compiled with esbuild and
executed in a fresh goja or QuickJS (WebAssembly) sandbox under a deadline.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Config file (default: ./jsxbox.yaml or ./configs/jsxbox.yaml)")
	pf.StringP("engine", "e", config.EngineGoja, "Engine: goja, wasm")
	pf.Duration("timeout", executor.DefaultTimeout, "Render deadline")
	pf.String("components", "./components", "Component directory")
	pf.String("manifest", "./capabilities.yaml", "Capability manifest")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.Bool("no-sanitize", false, "Print HTML without sanitizing it")
}

// app is everything a command needs to render components.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  *capability.Registry
	renderer  *pipeline.Renderer
	resolver  *source.Dir
	sanitizer *vdom.Sanitizer
	metrics   *prometheus.Registry
	closers   []func() error
}

func loadApp(cmd *cobra.Command, precompile bool) (*app, error) {
	v := config.New()
	for key, name := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	file, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(v, file)
	if err != nil {
		return nil, err
	}
	if noSanitize, _ := cmd.Flags().GetBool("no-sanitize"); noSanitize {
		cfg.Render.Sanitize = false
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return newApp(cfg, logger, precompile)
}

func newApp(cfg *config.Config, logger *zap.Logger, precompile bool) (*app, error) {
	reg, err := loadRegistry(cfg.Capabilities.Manifest, logger)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		resolver: source.NewDir(cfg.Components.Dir, source.WithPattern(cfg.Components.Pattern)),
		metrics:  prometheus.NewRegistry(),
	}
	if cfg.Render.Sanitize {
		a.sanitizer = vdom.NewSanitizer()
	}

	exec, err := a.newExecutor(precompile)
	if err != nil {
		return nil, err
	}

	a.renderer = pipeline.New(reg, exec,
		pipeline.WithResolver(a.resolver),
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(pipeline.NewMetrics(a.metrics)),
		pipeline.WithExecuteOptions(executor.WithTimeout(cfg.Render.Timeout)),
	)
	return a, nil
}

// loadRegistry builds the registry from the manifest. Without a manifest
// components can import nothing.
func loadRegistry(path string, logger *zap.Logger) (*capability.Registry, error) {
	reg, err := capability.LoadManifest(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("capability manifest not found, no imports will be granted", zap.String("path", path))
		return capability.New(nil)
	}
	return reg, err
}

func (a *app) newExecutor(precompile bool) (executor.Executor, error) {
	switch a.cfg.Render.Engine {
	case config.EngineWasm:
		var opts []wasm.Option
		if a.cfg.Render.DiskCache {
			opts = append(opts, wasm.WithDiskCache())
		}
		if a.cfg.Render.MemoryPages > 0 {
			opts = append(opts, wasm.WithMemoryLimit(a.cfg.Render.MemoryPages))
		}
		if precompile {
			opts = append(opts, wasm.WithPrecompile())
		}
		e, err := wasm.New(opts...)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, e.Close)
		return e, nil
	default:
		return sandbox.New(), nil
	}
}

// html renders n, sanitizing the markup unless disabled.
func (a *app) html(n *vdom.Node) (string, error) {
	if a.sanitizer != nil {
		return a.sanitizer.SafeHTML(n)
	}
	return vdom.HTML(n)
}

func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
