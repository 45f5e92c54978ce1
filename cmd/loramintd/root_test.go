package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"loramint/internal/config"
	"loramint/pkg/types"
)

func TestSplitCSV(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"a,b,c", []string{"a", "b", "c"}},
		{" a , b , c ", []string{"a", "b", "c"}},
		{"a,,c", []string{"a", "c"}},
		{"", nil},
	}
	for _, c := range cases {
		got := splitCSV(c.in)
		if len(got) != len(c.want) {
			t.Fatalf("%q -> %v, want %v", c.in, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("%q -> %v, want %v", c.in, got, c.want)
			}
		}
	}
}

func TestParseLora(t *testing.T) {
	s, err := parseLora("style.safetensors:0.6")
	if err != nil || s.File != "style.safetensors" || s.Strength != 0.6 {
		t.Fatalf("%+v %v", s, err)
	}
	s, err = parseLora("plain.safetensors")
	if err != nil || s.Strength != 1 {
		t.Fatalf("%+v %v", s, err)
	}
	for _, bad := range []string{"", ":0.5", "x:strong"} {
		if _, err := parseLora(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), `"message":"shown"`) {
		t.Fatalf("output=%q", buf.String())
	}
	if l := newLogger(config.LogConfig{Level: "nonsense"}, &buf); l.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("level=%s", l.GetLevel())
	}
}

func TestServeFlagsOverrideConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loramint.yaml")
	if err := os.WriteFile(path, []byte("server:\n  addr: \":7000\"\nengine:\n  base_url: http://10.0.0.2:8000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	root := newRootCmd()
	serve, _, err := root.Find([]string{"serve"})
	if err != nil {
		t.Fatal(err)
	}
	if err := root.PersistentFlags().Set("config", path); err != nil {
		t.Fatal(err)
	}
	if err := serve.Flags().Set("engine-url", "http://127.0.0.1:9000"); err != nil {
		t.Fatal(err)
	}
	_ = serve.Flags().Set("no-auto-start", "true")
	_ = serve.Flags().Set("cors-origins", "http://a, http://b")

	opts := &rootOptions{configPath: path}
	cfg, err := opts.loadConfig()
	if err != nil {
		t.Fatal(err)
	}
	f := &serveFlags{engineURL: "http://127.0.0.1:9000", noAutoStart: true, corsOrigins: "http://a, http://b"}
	f.apply(serve, &cfg)
	if cfg.Server.Addr != ":7000" {
		t.Fatalf("file value lost: %q", cfg.Server.Addr)
	}
	if cfg.Engine.BaseURL != "http://127.0.0.1:9000" || cfg.Engine.AutoStart {
		t.Fatalf("flags not applied: %+v", cfg.Engine)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "http://b" {
		t.Fatalf("cors=%v", cfg.Server.CORSOrigins)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestPrintEvent(t *testing.T) {
	var buf bytes.Buffer
	p := printEvent(&buf)
	p(types.ProgressEvent{Event: types.EventStep, Step: types.Ptr(3), TotalSteps: types.Ptr(30), Percentage: types.Ptr(10.0), Message: "Generating"})
	p(types.ProgressEvent{Event: types.EventError, Error: "CUDA out of memory"})
	want := "step 3/30 10% Generating\nerror CUDA out of memory\n"
	if buf.String() != want {
		t.Fatalf("got %q want %q", buf.String(), want)
	}
}

func TestPrintModels(t *testing.T) {
	var buf bytes.Buffer
	_ = printModels(&buf, []types.ModelDescriptor{{ID: "sdxl-turbo", Name: "SDXL Turbo", MinVRAMGB: 8, RecommendedVRAMGB: 12, EstimatedSizeGB: 7, IsDownloaded: true}})
	if !strings.Contains(buf.String(), "sdxl-turbo") || !strings.Contains(buf.String(), "yes") {
		t.Fatalf("%s", buf.String())
	}
}
