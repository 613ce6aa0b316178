// Package config loads server configuration from defaults, an optional
// JSON config file, and GLIMPSE_* environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

type Config struct {
	Server    ServerConfig
	Provider  ProviderConfig
	Storage   StorageConfig
	Retrieval RetrievalConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

// ProviderConfig points at an OpenAI-compatible API.
type ProviderConfig struct {
	BaseURL    string
	APIKey     string
	EmbedModel string
	ChatModel  string
}

type StorageConfig struct {
	DataDir  string
	ImageDir string
}

type RetrievalConfig struct {
	TopK int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 5000,
		},
		Provider: ProviderConfig{
			BaseURL:    "https://api.openai.com/v1",
			EmbedModel: "text-embedding-3-small",
			ChatModel:  "gpt-4o-mini",
		},
		Storage: StorageConfig{
			DataDir:  dataDir,
			ImageDir: filepath.Join(dataDir, "images"),
		},
		Retrieval: RetrievalConfig{
			TopK: 5,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "glimpse-data"
		}
	}
	return filepath.Join(dir, "glimpse")
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/glimpse/config.json (when present), then applies
// GLIMPSE_* environment overrides. The provider API key is required.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b *fileBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if cfg.Provider.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: provider API key. " +
			"Set it via environment variable GLIMPSE_PROVIDER_API_KEY")
	}
	return cfg, nil
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "glimpse", "config.json")
}

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key   string
	typ   keyType
	env   string
	apply func(cfg *Config, v any)
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "GLIMPSE_SERVER_PORT",
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
	},
	{
		key: "provider.base_url", typ: kString, env: "GLIMPSE_PROVIDER_BASE_URL",
		apply: func(cfg *Config, v any) { cfg.Provider.BaseURL = v.(string) },
	},
	{
		key: "provider.api_key", typ: kString, env: "GLIMPSE_PROVIDER_API_KEY",
		apply: func(cfg *Config, v any) { cfg.Provider.APIKey = v.(string) },
	},
	{
		key: "provider.embed_model", typ: kString, env: "GLIMPSE_PROVIDER_EMBED_MODEL",
		apply: func(cfg *Config, v any) { cfg.Provider.EmbedModel = v.(string) },
	},
	{
		key: "provider.chat_model", typ: kString, env: "GLIMPSE_PROVIDER_CHAT_MODEL",
		apply: func(cfg *Config, v any) { cfg.Provider.ChatModel = v.(string) },
	},
	{
		key: "storage.data_dir", typ: kString, env: "GLIMPSE_STORAGE_DATA_DIR",
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
	},
	{
		key: "storage.image_dir", typ: kString, env: "GLIMPSE_STORAGE_IMAGE_DIR",
		apply: func(cfg *Config, v any) { cfg.Storage.ImageDir = v.(string) },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "GLIMPSE_RETRIEVAL_TOP_K",
		apply: func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
	},
	{
		key: "log.level", typ: kString, env: "GLIMPSE_LOG_LEVEL",
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
	},
}

func applyBackend(cfg *Config, b *fileBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.getString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.getInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
