package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("LoadConfig error = %v", err)
	}
	if !cfg.ImgBed.UploadAdminOnly || !cfg.ImgBed.ShowUploadLink {
		t.Fatalf("defaults = %+v", cfg.ImgBed)
	}
	if cfg.ImgBed.MaxConcurrency != 3 {
		t.Fatalf("MaxConcurrency = %d, want 3", cfg.ImgBed.MaxConcurrency)
	}
	if cfg.Prefix() != "/" {
		t.Fatalf("Prefix = %q, want /", cfg.Prefix())
	}
}

func TestLoadConfig_FileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
		"imgbed": {"base_url": "https://cdn.example", "upload_admin_only": false},
		"bot": {"admins": [10001, "10002"], "command_prefix": "#"}
	}`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CLOUDIMG_IMGBED_AUTH_CODE", "from-env")
	t.Setenv("CLOUDIMG_IMGBED_TIMEOUT_SECONDS", "12")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error = %v", err)
	}
	if cfg.ImgBed.BaseURL != "https://cdn.example" || cfg.ImgBed.UploadAdminOnly {
		t.Fatalf("imgbed = %+v", cfg.ImgBed)
	}
	if cfg.ImgBed.AuthCode != "from-env" {
		t.Fatalf("AuthCode = %q, want from-env", cfg.ImgBed.AuthCode)
	}
	if cfg.UploadTimeout() != 12*time.Second {
		t.Fatalf("UploadTimeout = %v, want 12s", cfg.UploadTimeout())
	}
	if !cfg.IsAdmin("10001") || !cfg.IsAdmin("10002") || cfg.IsAdmin("10003") {
		t.Fatalf("admins = %v", cfg.Bot.Admins)
	}
	if cfg.Prefix() != "#" {
		t.Fatalf("Prefix = %q, want #", cfg.Prefix())
	}
	// untouched sections keep defaults
	if cfg.OneBot.ReconnectInterval != 5 {
		t.Fatalf("ReconnectInterval = %d, want 5", cfg.OneBot.ReconnectInterval)
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("LoadConfig expected error for invalid JSON")
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := DefaultConfig()
	cfg.ImgBed.BaseURL = "https://img.example"
	cfg.Bot.Admins = FlexibleStringSlice{"42"}

	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig error = %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Fatalf("mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig error = %v", err)
	}
	if loaded.ImgBed.BaseURL != "https://img.example" || !loaded.IsAdmin("42") {
		t.Fatalf("loaded = %+v", loaded)
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := expandHome("~/.cloudimg/data"); got != home+"/.cloudimg/data" {
		t.Fatalf("expandHome = %q", got)
	}
	if got := expandHome("/abs"); got != "/abs" {
		t.Fatalf("expandHome = %q", got)
	}
}
