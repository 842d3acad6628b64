package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/basket/neurovote/internal/otel"
)

// ProviderConfig holds per-provider settings for multi-provider LLM support.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"` // custom endpoint (e.g. OpenRouter)
}

// LLMConfig selects and configures the reasoning-service provider.
type LLMConfig struct {
	// Provider names the active LLM provider: "google", "anthropic", "openai", "openrouter".
	Provider string `yaml:"provider"`
	// Model is the model name for the configured provider.
	Model string `yaml:"model"`
}

// GovernanceConfig points at the governance network.
type GovernanceConfig struct {
	Endpoint       string `yaml:"endpoint"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	// IdentityPEM is the path to the voting identity key file. The identity
	// itself is owned by the caller that constructs the network client.
	IdentityPEM string `yaml:"identity_pem"`
}

// TelegramConfig configures the human-intervention channel.
type TelegramConfig struct {
	Token      string  `yaml:"token"`
	AllowedIDs []int64 `yaml:"allowed_ids"`
	Enabled    bool    `yaml:"enabled"`
}

// TimersConfig holds the three periodic job intervals.
type TimersConfig struct {
	SyncIntervalMinutes    int `yaml:"sync_interval_minutes"`
	ExecuteIntervalSeconds int `yaml:"execute_interval_seconds"`
	AnalyzeIntervalSeconds int `yaml:"analyze_interval_seconds"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel string `yaml:"log_level"`

	Governance GovernanceConfig `yaml:"governance"`
	LLM        LLMConfig        `yaml:"llm"`
	Timers     TimersConfig     `yaml:"timers"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Otel       otel.Config      `yaml:"otel"`

	// Providers holds per-provider configuration (API keys, custom endpoints).
	Providers map[string]ProviderConfig `yaml:"providers"`

	// PROMPT is the operator instruction text loaded from PROMPT.md, used as
	// the fallback when no prompt is stored in the settings table.
	PROMPT string `yaml:"-"`
}

// SyncInterval returns the proposal sync period.
func (c Config) SyncInterval() time.Duration {
	return time.Duration(c.Timers.SyncIntervalMinutes) * time.Minute
}

// ExecuteInterval returns the due-vote sweep period.
func (c Config) ExecuteInterval() time.Duration {
	return time.Duration(c.Timers.ExecuteIntervalSeconds) * time.Second
}

// AnalyzeInterval returns the unprocessed-proposal analysis sweep period.
func (c Config) AnalyzeInterval() time.Duration {
	return time.Duration(c.Timers.AnalyzeIntervalSeconds) * time.Second
}

// LLMProviderAPIKey returns the API key for the specified LLM provider.
// Env vars take precedence: GEMINI_API_KEY, ANTHROPIC_API_KEY, OPENAI_API_KEY.
func (c Config) LLMProviderAPIKey(provider string) string {
	envMap := map[string]string{
		"google":     "GEMINI_API_KEY",
		"anthropic":  "ANTHROPIC_API_KEY",
		"openai":     "OPENAI_API_KEY",
		"openrouter": "OPENROUTER_API_KEY",
	}
	if envVar, ok := envMap[provider]; ok {
		if v := os.Getenv(envVar); v != "" {
			return v
		}
	}
	if c.Providers != nil {
		if p, ok := c.Providers[provider]; ok && p.APIKey != "" {
			return p.APIKey
		}
	}
	return ""
}

// ResolveLLMConfig returns the effective provider, model and API key.
func (c Config) ResolveLLMConfig() (provider, model, apiKey string) {
	provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if provider == "" {
		provider = "google"
	}
	model = c.LLM.Model
	apiKey = c.LLMProviderAPIKey(provider)
	return provider, model, apiKey
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// PromptPath returns the path to the operator instruction file.
func PromptPath(homeDir string) string {
	return filepath.Join(homeDir, "PROMPT.md")
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		Governance: GovernanceConfig{
			TimeoutSeconds: 30,
		},
		Timers: TimersConfig{
			SyncIntervalMinutes:    30,
			ExecuteIntervalSeconds: 10,
			AnalyzeIntervalSeconds: 60,
		},
	}
}

func HomeDir() string {
	if override := os.Getenv("NEUROVOTE_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".neurovote")
}

func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create neurovote home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	loadTextFiles(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Governance.TimeoutSeconds <= 0 {
		cfg.Governance.TimeoutSeconds = 30
	}
	if cfg.Timers.SyncIntervalMinutes <= 0 {
		cfg.Timers.SyncIntervalMinutes = 30
	}
	if cfg.Timers.ExecuteIntervalSeconds <= 0 {
		cfg.Timers.ExecuteIntervalSeconds = 10
	}
	if cfg.Timers.AnalyzeIntervalSeconds <= 0 {
		cfg.Timers.AnalyzeIntervalSeconds = 60
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("NEUROVOTE_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("NEUROVOTE_GOVERNANCE_URL"); raw != "" {
		cfg.Governance.Endpoint = raw
	}
	if raw := os.Getenv("NEUROVOTE_GOVERNANCE_TIMEOUT_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Governance.TimeoutSeconds = v
		}
	}
	if raw := os.Getenv("NEUROVOTE_SYNC_INTERVAL_MINUTES"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Timers.SyncIntervalMinutes = v
		}
	}
	if raw := os.Getenv("NEUROVOTE_EXECUTE_INTERVAL_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Timers.ExecuteIntervalSeconds = v
		}
	}
	if raw := os.Getenv("NEUROVOTE_ANALYZE_INTERVAL_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Timers.AnalyzeIntervalSeconds = v
		}
	}
	if raw := os.Getenv("TELEGRAM_TOKEN"); raw != "" {
		cfg.Telegram.Token = raw
	}
}

func loadTextFiles(cfg *Config) {
	if b, err := os.ReadFile(PromptPath(cfg.HomeDir)); err == nil {
		cfg.PROMPT = string(b)
	}
}

// SetConfigValue updates a single top-level scalar in config.yaml,
// preserving other settings.
func SetConfigValue(homeDir, key, value string) error {
	configPath := ConfigPath(homeDir)
	raw := make(map[string]interface{})
	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parse config.yaml: %w", err)
		}
	}
	raw[key] = value
	out, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal config.yaml: %w", err)
	}
	return os.WriteFile(configPath, out, 0o644)
}
