package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type TelegramConfig struct {
	Token string `json:"token" toml:"token"`
	// APIEndpoint overrides the Bot API URL pattern, e.g. for a local
	// Bot API server.
	APIEndpoint string `json:"api_endpoint,omitempty" toml:"api_endpoint,omitempty"`
}

type GeminiConfig struct {
	BaseURL        string `json:"base_url" toml:"base_url"`
	APIKey         string `json:"api_key" toml:"api_key"`
	Model          string `json:"model" toml:"model"`
	TimeoutSeconds int    `json:"timeout_seconds" toml:"timeout_seconds"`
}

type TaggingConfig struct {
	MinIntervalMS int `json:"min_interval_ms" toml:"min_interval_ms"`
}

type StickersConfig struct {
	MaxImages        int    `json:"max_images" toml:"max_images"`
	InitialBatch     int    `json:"initial_batch" toml:"initial_batch"`
	MaxBytes         int    `json:"max_bytes" toml:"max_bytes"`
	Naming           string `json:"naming" toml:"naming"`
	OnPartialFailure string `json:"on_partial_failure" toml:"on_partial_failure"`
}

type BoardConfig struct {
	GalleryDL      string `json:"gallery_dl" toml:"gallery_dl"`
	StagingDir     string `json:"staging_dir" toml:"staging_dir"`
	SweepSchedule  string `json:"sweep_schedule" toml:"sweep_schedule"`
	RetentionHours int    `json:"retention_hours" toml:"retention_hours"`
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled" toml:"enabled"`
	Listen  string `json:"listen" toml:"listen"`
}

type Config struct {
	DataDir       string         `json:"data_dir" toml:"data_dir"`
	LogLevel      string         `json:"log_level" toml:"log_level"`
	LogFormat     string         `json:"log_format" toml:"log_format"`
	MaxConcurrent int            `json:"max_concurrent" toml:"max_concurrent"`
	Telegram      TelegramConfig `json:"telegram" toml:"telegram"`
	Gemini        GeminiConfig   `json:"gemini" toml:"gemini"`
	Tagging       TaggingConfig  `json:"tagging" toml:"tagging"`
	Stickers      StickersConfig `json:"stickers" toml:"stickers"`
	Board         BoardConfig    `json:"board" toml:"board"`
	HTTP          HTTPConfig     `json:"http" toml:"http"`
}

// DefaultPath is ~/.boardsticker/config.json.
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".boardsticker", "config.json")
}

// Default returns a Config with every default filled in.
func Default() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".boardsticker"),
		LogLevel:      "info",
		LogFormat:     "auto",
		MaxConcurrent: 2,
	}
	cfg.Gemini.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	cfg.Gemini.Model = "gemini-1.5-flash"
	cfg.Gemini.TimeoutSeconds = 60
	cfg.Tagging.MinIntervalMS = 4000
	cfg.Stickers.MaxImages = 120
	cfg.Stickers.InitialBatch = 50
	cfg.Stickers.MaxBytes = 512000
	cfg.Stickers.Naming = "timestamp"
	cfg.Stickers.OnPartialFailure = "delete"
	cfg.Board.GalleryDL = "gallery-dl"
	cfg.Board.SweepSchedule = "@hourly"
	cfg.Board.RetentionHours = 24
	cfg.HTTP.Listen = "127.0.0.1:8390"
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := Default()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if tgToken := os.Getenv("TELEGRAM_BOT_TOKEN"); tgToken != "" {
		cfg.Telegram.Token = tgToken
	}
	if key := os.Getenv("GEMINI_TOKEN"); key != "" {
		cfg.Gemini.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.Gemini.APIKey = key
	}
	if baseURL := os.Getenv("GEMINI_BASE_URL"); baseURL != "" {
		cfg.Gemini.BaseURL = baseURL
	}
	if dataDir := os.Getenv("BOARDSTICKER_DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}

	return cfg, nil
}

// Validate checks the values that have a closed set of options.
func (c *Config) Validate() error {
	var problems []string
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("log_level %q must be debug, info, warn or error", c.LogLevel))
	}
	switch c.LogFormat {
	case "", "auto", "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("log_format %q must be auto, text or json", c.LogFormat))
	}
	switch c.Stickers.Naming {
	case "timestamp", "probe":
	default:
		problems = append(problems, fmt.Sprintf("stickers.naming %q must be timestamp or probe", c.Stickers.Naming))
	}
	switch c.Stickers.OnPartialFailure {
	case "delete", "keep":
	default:
		problems = append(problems, fmt.Sprintf("stickers.on_partial_failure %q must be delete or keep", c.Stickers.OnPartialFailure))
	}
	if c.Tagging.MinIntervalMS <= 0 {
		problems = append(problems, "tagging.min_interval_ms must be positive")
	}
	if c.Stickers.InitialBatch > 50 {
		problems = append(problems, "stickers.initial_batch cannot exceed 50")
	}
	if c.Stickers.MaxImages > 120 {
		problems = append(problems, "stickers.max_images cannot exceed 120")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// TagInterval is the global minimum gap between tagging calls.
func (c *Config) TagInterval() time.Duration {
	return time.Duration(c.Tagging.MinIntervalMS) * time.Millisecond
}

// GeminiTimeout is the per-request timeout of the tagging service.
func (c *Config) GeminiTimeout() time.Duration {
	return time.Duration(c.Gemini.TimeoutSeconds) * time.Second
}

// Retention is how long an unlocked staging directory may linger.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Board.RetentionHours) * time.Hour
}

// StagingDir defaults to <data_dir>/staging.
func (c *Config) StagingDir() string {
	if c.Board.StagingDir != "" {
		return c.Board.StagingDir
	}
	return filepath.Join(c.DataDir, "staging")
}

// DBPath is the set history database.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "sets.db")
}

// Save writes cfg to path atomically, creating the directory if needed.
// A path ending in .toml is written as TOML, anything else as JSON.
func Save(path string, cfg *Config) error {
	data, err := encode(path, cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, data)
}

// ToMap converts cfg into the generic nested map used by the config
// commands. Numbers come back as float64.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues returns every setting as a flat dot-separated map, optionally
// with secrets masked.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue loads the config at path and returns one dot-separated key.
func GetValue(path, key string) (any, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	flat, err := ListValues(cfg, false)
	if err != nil {
		return nil, err
	}
	// Keys written with SetValue but unknown to Config live only in the file.
	if raw, err := readRaw(path); err == nil {
		for k, v := range Flatten(raw) {
			if _, ok := flat[k]; !ok {
				flat[k] = v
			}
		}
	}
	v, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue updates one dot-separated key in the existing file at path.
// Known keys are checked with ParseValue before anything is written.
func SetValue(path, key, value string) error {
	parsed, err := ParseValue(key, value)
	if err != nil {
		return err
	}
	raw, err := readRaw(path)
	if err != nil {
		return err
	}

	flat := Flatten(raw)
	flat[key] = parsed
	nested := Unflatten(flat)

	var data []byte
	if isTOML(path) {
		data, err = toml.Marshal(nested)
	} else {
		data, err = json.MarshalIndent(nested, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, data)
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	raw := make(map[string]any)
	if isTOML(path) {
		err = toml.Unmarshal(data, &raw)
	} else {
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return raw, nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func decode(path string, data []byte, cfg *Config) error {
	if isTOML(path) {
		return toml.Unmarshal(data, cfg)
	}
	return json.Unmarshal(data, cfg)
}

func encode(path string, cfg *Config) ([]byte, error) {
	if isTOML(path) {
		return toml.Marshal(cfg)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}
