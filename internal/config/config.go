package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

// Config holds runtime parameters for loramintd.
type Config struct {
	Server  ServerConfig  `json:"server" yaml:"server" toml:"server"`
	Engine  EngineConfig  `json:"engine" yaml:"engine" toml:"engine"`
	Models  ModelsConfig  `json:"models" yaml:"models" toml:"models"`
	Log     LogConfig     `json:"log" yaml:"log" toml:"log"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing" toml:"tracing"`
}

// ServerConfig tunes the HTTP listener. MaxUploadBytes bounds a multipart
// training upload, all images together.
type ServerConfig struct {
	Addr           string   `json:"addr" yaml:"addr" toml:"addr"`
	CORSOrigins    []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	MaxBodyBytes   int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	MaxUploadBytes int64    `json:"max_upload_bytes" yaml:"max_upload_bytes" toml:"max_upload_bytes"`
	Swagger        bool     `json:"swagger" yaml:"swagger" toml:"swagger"`
}

// EngineConfig describes where the engine lives and how it is supervised.
// BaseURL, Path, AutoStart and AutoInstallDependencies are the recognized core keys;
// the rest tune the launch and have defaults.
type EngineConfig struct {
	BaseURL                 string   `json:"base_url" yaml:"base_url" toml:"base_url"`
	Path                    string   `json:"path" yaml:"path" toml:"path"`
	AutoStart               bool     `json:"auto_start" yaml:"auto_start" toml:"auto_start"`
	AutoInstallDependencies bool     `json:"auto_install_dependencies" yaml:"auto_install_dependencies" toml:"auto_install_dependencies"`
	Python                  string   `json:"python" yaml:"python" toml:"python"`
	VenvDir                 string   `json:"venv_dir" yaml:"venv_dir" toml:"venv_dir"`
	Requirements            string   `json:"requirements" yaml:"requirements" toml:"requirements"`
	Script                  string   `json:"script" yaml:"script" toml:"script"`
	Args                    []string `json:"args" yaml:"args" toml:"args"`
	HealthPaths             []string `json:"health_paths" yaml:"health_paths" toml:"health_paths"`
	GracePeriod             Duration `json:"grace_period" yaml:"grace_period" toml:"grace_period"`
	StopTimeout             Duration `json:"stop_timeout" yaml:"stop_timeout" toml:"stop_timeout"`
	ProbeTimeout            Duration `json:"probe_timeout" yaml:"probe_timeout" toml:"probe_timeout"`
	StatusTimeout           Duration `json:"status_timeout" yaml:"status_timeout" toml:"status_timeout"`
	LoadTimeout             Duration `json:"load_timeout" yaml:"load_timeout" toml:"load_timeout"`
	RestartInterval         Duration `json:"restart_interval" yaml:"restart_interval" toml:"restart_interval"`
}

type ModelsConfig struct {
	// Root holds model weights and the settings document.
	Root string `json:"root" yaml:"root" toml:"root"`
	// Catalog optionally replaces the built-in model list (yaml/json/toml).
	Catalog string `json:"catalog" yaml:"catalog" toml:"catalog"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"` // json|console
}

type TracingConfig struct {
	Enabled      bool    `json:"enabled" yaml:"enabled" toml:"enabled"`
	OTLPEndpoint string  `json:"otlp_endpoint" yaml:"otlp_endpoint" toml:"otlp_endpoint"`
	SampleRate   float64 `json:"sample_rate" yaml:"sample_rate" toml:"sample_rate"`
}

// Defaults returns the configuration used when no file or flag overrides a key.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":5080",
			MaxBodyBytes:   1 << 20,
			MaxUploadBytes: 64 << 20,
			Swagger:        true,
		},
		Engine: EngineConfig{
			BaseURL:                 "http://127.0.0.1:8000",
			Path:                    "python-backend",
			AutoStart:               true,
			AutoInstallDependencies: true,
			Python:                  "python3",
			VenvDir:                 "venv",
			Requirements:            "requirements.txt",
			Script:                  "main.py",
			HealthPaths:             []string{"/health", "/", "/docs"},
			GracePeriod:             Duration(3 * time.Second),
			StopTimeout:             Duration(10 * time.Second),
			ProbeTimeout:            Duration(2 * time.Second),
			StatusTimeout:           Duration(5 * time.Second),
			LoadTimeout:             Duration(10 * time.Minute),
			RestartInterval:         Duration(5 * time.Second),
		},
		Models: ModelsConfig{Root: "data/models"},
		Log:    LogConfig{Level: "info", Format: "console"},
		Tracing: TracingConfig{
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
	}
}

// ApplyEnv overlays LORAMINT_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("LORAMINT_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("LORAMINT_ENGINE_URL"); v != "" {
		c.Engine.BaseURL = v
	}
	if v := os.Getenv("LORAMINT_ENGINE_PATH"); v != "" {
		c.Engine.Path = v
	}
	if v := os.Getenv("LORAMINT_MODELS_ROOT"); v != "" {
		c.Models.Root = v
	}
	if v := os.Getenv("LORAMINT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate checks the configuration once, at construction time.
func (c Config) Validate() error {
	var errs []error
	u, err := url.Parse(c.Engine.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("engine.base_url must be an absolute http(s) URL, got %q", c.Engine.BaseURL))
	}
	if c.Engine.AutoStart {
		if strings.TrimSpace(c.Engine.Path) == "" {
			errs = append(errs, errors.New("engine.path is required when engine.auto_start is set"))
		}
		if strings.TrimSpace(c.Engine.Script) == "" {
			errs = append(errs, errors.New("engine.script is required when engine.auto_start is set"))
		}
		if strings.TrimSpace(c.Engine.Python) == "" {
			errs = append(errs, errors.New("engine.python is required when engine.auto_start is set"))
		}
	}
	if len(c.Engine.HealthPaths) == 0 {
		errs = append(errs, errors.New("engine.health_paths must not be empty"))
	}
	for _, p := range c.Engine.HealthPaths {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Errorf("engine.health_paths entry %q must start with /", p))
		}
	}
	durations := map[string]Duration{
		"engine.grace_period":   c.Engine.GracePeriod,
		"engine.stop_timeout":   c.Engine.StopTimeout,
		"engine.probe_timeout":  c.Engine.ProbeTimeout,
		"engine.status_timeout": c.Engine.StatusTimeout,
		"engine.load_timeout":   c.Engine.LoadTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Engine.RestartInterval < 0 {
		errs = append(errs, errors.New("engine.restart_interval must not be negative"))
	}
	if strings.TrimSpace(c.Models.Root) == "" {
		errs = append(errs, errors.New("models.root is required"))
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}
	if c.Tracing.Enabled && c.Tracing.OTLPEndpoint == "" {
		errs = append(errs, errors.New("tracing.otlp_endpoint is required when tracing is enabled"))
	}
	return errors.Join(errs...)
}

// Duration is a time.Duration that reads and writes as "3s", "10m".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) { return []byte(time.Duration(d).String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	*d = Duration(v)
	return nil
}
