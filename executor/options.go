package executor

import (
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds each attempt when no WithTimeout is given.
const DefaultTimeout = 250 * time.Millisecond

// Option configures a single Execute call.
type Option func(*Config)

// Config is the resolved per-attempt configuration. Engines obtain it with
// NewConfig.
type Config struct {
	Timeout   time.Duration
	Logger    *zap.Logger
	AttemptID string
	Props     map[string]any
	StateHook func(State)
}

func NewConfig(opts ...Option) Config {
	cfg := Config{
		Timeout: DefaultTimeout,
		Logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.AttemptID != "" {
		cfg.Logger = cfg.Logger.With(zap.String("attempt_id", cfg.AttemptID))
	}
	return cfg
}

// Enter records a state transition.
func (c Config) Enter(s State) {
	c.Logger.Debug("render attempt state", zap.Stringer("state", s))
	if c.StateHook != nil {
		c.StateHook(s)
	}
}

// WithTimeout sets the wall-clock deadline for executing the body and for
// each render of the resulting component.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithLogger sets the logger that receives lifecycle events and captured
// console output.
func WithLogger(l *zap.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithAttemptID tags every log line of the attempt.
func WithAttemptID(id string) Option {
	return func(c *Config) {
		c.AttemptID = id
	}
}

// WithProps sets the props for the initial render.
func WithProps(props map[string]any) Option {
	return func(c *Config) {
		c.Props = props
	}
}

// WithStateHook observes every state transition of the attempt.
func WithStateHook(fn func(State)) Option {
	return func(c *Config) {
		c.StateHook = fn
	}
}
