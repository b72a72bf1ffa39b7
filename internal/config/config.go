package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	OpenAI  OpenAIConfig  `yaml:"openai"`
	Storage StorageConfig `yaml:"storage"`
	Search  SearchConfig  `yaml:"search"`
	Quota   QuotaConfig   `yaml:"quota"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Port       int    `yaml:"port"`
	AdminToken string `yaml:"admin_token"`
}

type OpenAIConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	ChatModel  string `yaml:"chat_model"`
	EmbedModel string `yaml:"embed_model"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// SearchConfig carries the per-pool similarity floors. These are tunable
// policy constants: filings are longer and noisier than transcript snippets,
// so they get a lower floor, and unscoped discovery search gets a stricter one.
type SearchConfig struct {
	FilingFloor          float64 `yaml:"filing_floor"`
	TranscriptFloor      float64 `yaml:"transcript_floor"`
	DiscoveryFilingFloor float64 `yaml:"discovery_filing_floor"`
}

type QuotaConfig struct {
	SessionDailyLimit int `yaml:"session_daily_limit"`
	OriginDailyLimit  int `yaml:"origin_daily_limit"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		OpenAI: OpenAIConfig{
			ChatModel:  "gpt-4o-mini",
			EmbedModel: "text-embedding-3-small",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Search: SearchConfig{
			FilingFloor:          0.45,
			TranscriptFloor:      0.55,
			DiscoveryFilingFloor: 0.58,
		},
		Quota: QuotaConfig{
			SessionDailyLimit: 30,
			OriginDailyLimit:  1000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(dir, ".finsight")
	}
	return ".finsight"
}

// Load reads configuration from the YAML config file (if present), then
// applies FINSIGHT_* environment overrides on top of defaults.
//
// The config file location is $FINSIGHT_CONFIG, falling back to
// $XDG_CONFIG_HOME/finsight/config.yaml.
func Load() (Config, error) {
	return loadWith(configFilePath())
}

func configFilePath() string {
	if p := os.Getenv("FINSIGHT_CONFIG"); p != "" {
		return p
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		if home, err := os.UserHomeDir(); err == nil {
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, "finsight", "config.yaml")
}

func loadWith(path string) (Config, error) {
	cfg := defaults()

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if cfg.OpenAI.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: OpenAI API key. " +
			"Set it via environment variable FINSIGHT_OPENAI_API_KEY or openai.api_key in the config file")
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}

	setInt("FINSIGHT_PORT", &cfg.Server.Port)
	setString("FINSIGHT_ADMIN_TOKEN", &cfg.Server.AdminToken)
	setString("FINSIGHT_OPENAI_API_KEY", &cfg.OpenAI.APIKey)
	setString("FINSIGHT_OPENAI_BASE_URL", &cfg.OpenAI.BaseURL)
	setString("FINSIGHT_CHAT_MODEL", &cfg.OpenAI.ChatModel)
	setString("FINSIGHT_EMBED_MODEL", &cfg.OpenAI.EmbedModel)
	setString("FINSIGHT_DATA_DIR", &cfg.Storage.DataDir)
	setFloat("FINSIGHT_FILING_FLOOR", &cfg.Search.FilingFloor)
	setFloat("FINSIGHT_TRANSCRIPT_FLOOR", &cfg.Search.TranscriptFloor)
	setFloat("FINSIGHT_DISCOVERY_FILING_FLOOR", &cfg.Search.DiscoveryFilingFloor)
	setInt("FINSIGHT_SESSION_DAILY_LIMIT", &cfg.Quota.SessionDailyLimit)
	setInt("FINSIGHT_ORIGIN_DAILY_LIMIT", &cfg.Quota.OriginDailyLimit)
	setString("FINSIGHT_LOG_LEVEL", &cfg.Log.Level)
}
