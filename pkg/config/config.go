package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so QQ ids can be written as both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	// Try []interface{} to handle mixed types
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Contains reports whether id is listed.
func (f FlexibleStringSlice) Contains(id string) bool {
	for _, v := range f {
		if strings.TrimSpace(v) == id {
			return true
		}
	}
	return false
}

type Config struct {
	OneBot OneBotConfig `json:"onebot"`
	ImgBed ImgBedConfig `json:"imgbed"`
	Bot    BotConfig    `json:"bot"`
	mu     sync.RWMutex
}

type OneBotConfig struct {
	WSUrl             string              `json:"ws_url" env:"CLOUDIMG_ONEBOT_WS_URL"`
	AccessToken       string              `json:"access_token" env:"CLOUDIMG_ONEBOT_ACCESS_TOKEN"`
	ReconnectInterval int                 `json:"reconnect_interval" env:"CLOUDIMG_ONEBOT_RECONNECT_INTERVAL"`
	AllowFrom         FlexibleStringSlice `json:"allow_from" env:"CLOUDIMG_ONEBOT_ALLOW_FROM"`
	AllowGroups       FlexibleStringSlice `json:"allow_groups" env:"CLOUDIMG_ONEBOT_ALLOW_GROUPS"`
}

type ImgBedConfig struct {
	BaseURL            string `json:"base_url" env:"CLOUDIMG_IMGBED_BASE_URL"`
	UploadURL          string `json:"upload_url" env:"CLOUDIMG_IMGBED_UPLOAD_URL"`
	AuthCode           string `json:"auth_code" env:"CLOUDIMG_IMGBED_AUTH_CODE"`
	UploadAdminOnly    bool   `json:"upload_admin_only" env:"CLOUDIMG_IMGBED_UPLOAD_ADMIN_ONLY"`
	ShowUploadLink     bool   `json:"show_upload_link" env:"CLOUDIMG_IMGBED_SHOW_UPLOAD_LINK"`
	MaxConcurrency     int    `json:"max_concurrency" env:"CLOUDIMG_IMGBED_MAX_CONCURRENCY"`
	TimeoutSeconds     int    `json:"timeout_seconds" env:"CLOUDIMG_IMGBED_TIMEOUT_SECONDS"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify" env:"CLOUDIMG_IMGBED_INSECURE_SKIP_VERIFY"`
}

type BotConfig struct {
	Admins        FlexibleStringSlice `json:"admins" env:"CLOUDIMG_BOT_ADMINS"`
	CommandPrefix string              `json:"command_prefix" env:"CLOUDIMG_BOT_COMMAND_PREFIX"`
	DataDir       string              `json:"data_dir" env:"CLOUDIMG_BOT_DATA_DIR"`
}

func DefaultConfig() *Config {
	return &Config{
		OneBot: OneBotConfig{
			WSUrl:             "ws://127.0.0.1:3001",
			AccessToken:       "",
			ReconnectInterval: 5,
			AllowFrom:         FlexibleStringSlice{},
			AllowGroups:       FlexibleStringSlice{},
		},
		ImgBed: ImgBedConfig{
			BaseURL:            "",
			UploadURL:          "",
			AuthCode:           "",
			UploadAdminOnly:    true,
			ShowUploadLink:     true,
			MaxConcurrency:     3,
			TimeoutSeconds:     30,
			InsecureSkipVerify: false,
		},
		Bot: BotConfig{
			Admins:        FlexibleStringSlice{},
			CommandPrefix: "/",
			DataDir:       "~/.cloudimg/data",
		},
	}
}

// LoadConfig reads the JSON file at path, falling back to defaults when it
// does not exist, then applies CLOUDIMG_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) DataPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Bot.DataDir)
}

// Prefix returns the command prefix, "/" when unset.
func (c *Config) Prefix() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Bot.CommandPrefix == "" {
		return "/"
	}
	return c.Bot.CommandPrefix
}

func (c *Config) IsAdmin(userID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Bot.Admins.Contains(userID)
}

func (c *Config) UploadTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ImgBed.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.ImgBed.TimeoutSeconds) * time.Second
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
