package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Server != DefaultServer || cfg.Output != DefaultOutput {
		t.Errorf("Default() = %+v", cfg)
	}
	if cfg.RequestTimeout() != 10*time.Second {
		t.Errorf("RequestTimeout() = %v, want 10s", cfg.RequestTimeout())
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path := DefaultConfigPath()
	if !strings.HasSuffix(path, filepath.Join(".spanmesh", "cli.yaml")) {
		t.Errorf("DefaultConfigPath() = %q", path)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server != DefaultServer {
		t.Errorf("Server = %q, want default", cfg.Server)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.yaml")
	content := "server: edge\noutput: json\ntimeout: 3s\nservers:\n  edge: http://10.0.0.5:5480\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Output != "json" || cfg.RequestTimeout() != 3*time.Second {
		t.Errorf("cfg = %+v", cfg)
	}
	if got := cfg.Resolve(cfg.Server); got != "http://10.0.0.5:5480" {
		t.Errorf("Resolve(%q) = %q", cfg.Server, got)
	}
	if got := cfg.Resolve("127.0.0.1:5480"); got != "127.0.0.1:5480" {
		t.Errorf("Resolve(addr) = %q", got)
	}
}

func TestLoadInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load() succeeded on invalid yaml")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cli.yaml")
	cfg := Default()
	cfg.Servers["lab"] = "http://192.168.1.9:5480"
	cfg.Timeout = "bogus"

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Resolve("lab") != "http://192.168.1.9:5480" {
		t.Errorf("servers = %v", got.Servers)
	}
	if got.RequestTimeout() != 10*time.Second {
		t.Errorf("RequestTimeout() = %v, want fallback 10s", got.RequestTimeout())
	}
}
