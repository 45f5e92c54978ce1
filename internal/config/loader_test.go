package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", "server:\n  addr: :9999\nengine:\n  base_url: http://127.0.0.1:9000\n  path: /opt/engine\n  auto_start: false\n  grace_period: 500ms\nmodels:\n  root: /tmp/models\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9999" || cfg.Engine.BaseURL != "http://127.0.0.1:9000" || cfg.Engine.Path != "/opt/engine" || cfg.Engine.AutoStart || cfg.Models.Root != "/tmp/models" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.Engine.GracePeriod.Std() != 500*time.Millisecond {
		t.Fatalf("grace period: %v", cfg.Engine.GracePeriod.Std())
	}
	// untouched keys keep their defaults
	if !cfg.Engine.AutoInstallDependencies || cfg.Engine.Script != "main.py" {
		t.Fatalf("defaults lost: %+v", cfg.Engine)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"server":{"addr":":7070"},"engine":{"auto_install_dependencies":false,"health_paths":["/health"],"stop_timeout":"1s"},"log":{"level":"debug"}}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":7070" || cfg.Engine.AutoInstallDependencies || len(cfg.Engine.HealthPaths) != 1 || cfg.Log.Level != "debug" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.Engine.StopTimeout.Std() != time.Second {
		t.Fatalf("stop timeout: %v", cfg.Engine.StopTimeout.Std())
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "[server]\naddr=\":8081\"\n[engine]\nbase_url=\"http://localhost:8100\"\nload_timeout=\"2m\"\n[models]\nroot=\"/x\"\ncatalog=\"/x/catalog.yaml\"\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8081" || cfg.Engine.BaseURL != "http://localhost:8100" || cfg.Models.Root != "/x" || cfg.Models.Catalog != "/x/catalog.yaml" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.Engine.LoadTimeout.Std() != 2*time.Minute {
		t.Fatalf("load timeout: %v", cfg.Engine.LoadTimeout.Std())
	}
}

func TestLoadUnsupportedExt(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.ini", "addr=:1")
	if _, err := Load(p); err == nil {
		t.Fatalf("expected error for unsupported extension")
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
