// Package config loads jsxbox settings from jsxbox.yaml, JSXBOX_*
// environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	fileName  = "jsxbox"
	fileType  = "yaml"
	envPrefix = "JSXBOX"
)

// Engines that can run components.
const (
	EngineGoja = "goja"
	EngineWasm = "wasm"
)

type Config struct {
	Render       RenderConfig       `mapstructure:"render"`
	Components   ComponentsConfig   `mapstructure:"components"`
	Capabilities CapabilitiesConfig `mapstructure:"capabilities"`
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
}

type RenderConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	Engine      string        `mapstructure:"engine"`
	MemoryPages uint32        `mapstructure:"memory_pages"` // wasm only; 0 = engine default
	DiskCache   bool          `mapstructure:"disk_cache"`   // wasm only
	Sanitize    bool          `mapstructure:"sanitize"`
}

type ComponentsConfig struct {
	Dir     string `mapstructure:"dir"`
	Pattern string `mapstructure:"pattern"`
}

type CapabilitiesConfig struct {
	Manifest string `mapstructure:"manifest"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	RateLimit    float64       `mapstructure:"rate_limit"` // requests per second, 0 = unlimited
	Burst        int           `mapstructure:"burst"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxBodySize  int64         `mapstructure:"max_body_size"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// New returns a viper instance with defaults and environment binding in
// place. Commands bind their flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigName(fileName)
	v.SetConfigType(fileType)
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("render.timeout", 250*time.Millisecond)
	v.SetDefault("render.engine", EngineGoja)
	v.SetDefault("render.memory_pages", 0)
	v.SetDefault("render.disk_cache", false)
	v.SetDefault("render.sanitize", true)
	v.SetDefault("components.dir", "./components")
	v.SetDefault("components.pattern", "**/*.{tsx,jsx}")
	v.SetDefault("capabilities.manifest", "./capabilities.yaml")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.rate_limit", 20)
	v.SetDefault("server.burst", 40)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.max_body_size", 1<<20)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads the config file (file, or jsxbox.yaml on the search path) and
// decodes the merged settings. A missing default file is not an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Render.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("render.timeout must be positive, got %s", c.Render.Timeout))
	}
	switch c.Render.Engine {
	case EngineGoja, EngineWasm:
	default:
		errs = append(errs, fmt.Errorf("render.engine must be %q or %q, got %q", EngineGoja, EngineWasm, c.Render.Engine))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rate_limit must not be negative"))
	}
	if c.Server.MaxBodySize <= 0 {
		errs = append(errs, errors.New("server.max_body_size must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
