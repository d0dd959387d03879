package wasm

import "time"

// Option configures the Engine at creation time.
type Option func(*engineConfig)

type engineConfig struct {
	diskCache        bool
	cacheDir         string
	precompile       bool
	memoryLimitPages uint32 // 0 = wazero default (4GB)
	abandonAfter     time.Duration
	maxDepth         int
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		memoryLimitPages: MemoryLimit64MB,
		abandonAfter:     50 * time.Millisecond,
		maxDepth:         256,
	}
}

// WithDiskCache enables a persistent compilation cache so the interpreter
// is not recompiled on every process start. Without a directory the cache
// lives under XDG_CACHE_HOME/jsxbox or ~/.cache/jsxbox.
func WithDiskCache(dir ...string) Option {
	return func(c *engineConfig) {
		c.diskCache = true
		if len(dir) > 0 && dir[0] != "" {
			c.cacheDir = dir[0]
		}
	}
}

// WithPrecompile compiles the interpreter in New instead of on first use.
func WithPrecompile() Option {
	return func(c *engineConfig) {
		c.precompile = true
	}
}

// WithMemoryLimit sets the maximum memory of one instance in 64KB pages.
func WithMemoryLimit(pages uint32) Option {
	return func(c *engineConfig) {
		c.memoryLimitPages = pages
	}
}

// WithAbandonAfter sets how long a timed out instance may take to unwind
// before Execute stops waiting for it.
func WithAbandonAfter(d time.Duration) Option {
	return func(c *engineConfig) {
		c.abandonAfter = d
	}
}

// WithMaxDepth sets the maximum depth of a rendered tree.
func WithMaxDepth(n int) Option {
	return func(c *engineConfig) {
		c.maxDepth = n
	}
}

// Memory limits for WithMemoryLimit.
const (
	MemoryLimit16MB  uint32 = 256
	MemoryLimit64MB  uint32 = 1024
	MemoryLimit256MB uint32 = 4096
)
