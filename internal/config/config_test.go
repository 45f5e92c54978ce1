package config

import (
	"strings"
	"testing"
)

func TestDefaultsValidate(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
		want string
	}{
		{"relative url", func(c *Config) { c.Engine.BaseURL = "localhost:8000" }, "base_url"},
		{"no path with autostart", func(c *Config) { c.Engine.Path = "" }, "engine.path"},
		{"no health paths", func(c *Config) { c.Engine.HealthPaths = nil }, "health_paths"},
		{"bad health path", func(c *Config) { c.Engine.HealthPaths = []string{"health"} }, "must start with /"},
		{"zero grace", func(c *Config) { c.Engine.GracePeriod = 0 }, "grace_period"},
		{"no models root", func(c *Config) { c.Models.Root = " " }, "models.root"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"tracing no endpoint", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.OTLPEndpoint = "" }, "otlp_endpoint"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Defaults()
			tc.mut(&c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("want error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestValidate_NoAutoStartSkipsLaunchKeys(t *testing.T) {
	c := Defaults()
	c.Engine.AutoStart = false
	c.Engine.Path = ""
	c.Engine.Script = ""
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("LORAMINT_ADDR", ":1234")
	t.Setenv("LORAMINT_ENGINE_URL", "http://10.0.0.2:8000")
	t.Setenv("LORAMINT_LOG_LEVEL", "debug")
	c := Defaults()
	c.ApplyEnv()
	if c.Server.Addr != ":1234" || c.Engine.BaseURL != "http://10.0.0.2:8000" || c.Log.Level != "debug" {
		t.Fatalf("env not applied: %+v", c)
	}
	if c.Models.Root != "data/models" {
		t.Fatalf("unset env must not change models root: %q", c.Models.Root)
	}
}

func TestDurationText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte(" 1m30s ")); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	b, _ := d.MarshalText()
	if string(b) != "1m30s" {
		t.Fatalf("got %q", b)
	}
}
