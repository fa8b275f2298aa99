package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nimbusvpn/provision/internal/authorize"
)

func TestLoader_Load_Defaults(t *testing.T) {
	os.Unsetenv("NIMBUSVPN_CLIENT_ID")
	os.Unsetenv("NIMBUSVPN_STORE_BACKEND")

	// Mock home directory to avoid picking up a real config file
	tmpDir, err := os.MkdirTemp("", "home")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)
	t.Setenv("HOME", tmpDir)

	loader := NewLoader()
	cfg, err := loader.Load()

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg == nil {
		t.Fatal("expected config, got nil")
	}

	if cfg.ClientID != authorize.DefaultClientID {
		t.Errorf("wrong ClientID: got %s", cfg.ClientID)
	}
	if cfg.RedirectURI != authorize.DefaultRedirectURI {
		t.Errorf("wrong RedirectURI: got %s", cfg.RedirectURI)
	}
	if cfg.Scope != authorize.DefaultScope {
		t.Errorf("wrong Scope: got %s", cfg.Scope)
	}
	if cfg.StoreBackend != StoreKeyring {
		t.Errorf("wrong StoreBackend: got %s", cfg.StoreBackend)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("wrong LogLevel: got %s", cfg.LogLevel)
	}
	if cfg.SQLitePath == "" || cfg.SQLitePath[0] == '~' {
		t.Errorf("SQLitePath should be expanded, got %s", cfg.SQLitePath)
	}
	if cfg.TunnelDir == "" || cfg.TunnelDir[0] == '~' {
		t.Errorf("TunnelDir should be expanded, got %s", cfg.TunnelDir)
	}
}

func TestLoader_Load_FromEnv(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("NIMBUSVPN_CLIENT_ID", "org.example.other")
	t.Setenv("NIMBUSVPN_STORE_BACKEND", "memory")
	t.Setenv("NIMBUSVPN_LOG_LEVEL", "debug")

	loader := NewLoader()
	cfg, err := loader.Load()

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.ClientID != "org.example.other" {
		t.Errorf("wrong ClientID: got %s", cfg.ClientID)
	}
	if cfg.StoreBackend != StoreMemory {
		t.Errorf("wrong StoreBackend: got %s", cfg.StoreBackend)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("wrong LogLevel: got %s", cfg.LogLevel)
	}
}

func TestLoader_Load_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		wants string
	}{
		{
			name:  "bad store backend",
			env:   map[string]string{"NIMBUSVPN_STORE_BACKEND": "redis"},
			wants: "store_backend",
		},
		{
			name:  "bad log level",
			env:   map[string]string{"NIMBUSVPN_LOG_LEVEL": "verbose"},
			wants: "log_level",
		},
		{
			name:  "bad log format",
			env:   map[string]string{"NIMBUSVPN_LOG_FORMAT": "xml"},
			wants: "log_format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HOME", t.TempDir())
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := NewLoader().Load()
			if err == nil {
				t.Fatal("expected a validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wants) {
				t.Errorf("expected error mentioning %s, got %v", tt.wants, err)
			}
		})
	}
}

func TestLoadWithPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("client_id: org.example.fromfile\nstore_backend: sqlite\nsqlite_path: /tmp/creds.db\n")
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadWithPath(path)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.ClientID != "org.example.fromfile" {
		t.Errorf("wrong ClientID: got %s", cfg.ClientID)
	}
	if cfg.StoreBackend != StoreSQLite {
		t.Errorf("wrong StoreBackend: got %s", cfg.StoreBackend)
	}
}
