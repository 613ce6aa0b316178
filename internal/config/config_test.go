package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, content string) *fileBackend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return newFileBackend(path)
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GLIMPSE_PROVIDER_API_KEY", "sk-test")

	cfg, err := loadWith(newFileBackend(filepath.Join(t.TempDir(), "absent.json")))
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("top_k = %d, want 5", cfg.Retrieval.TopK)
	}
	if cfg.Provider.APIKey != "sk-test" {
		t.Errorf("api key = %q", cfg.Provider.APIKey)
	}
}

func TestLoad_MissingAPIKey(t *testing.T) {
	t.Setenv("GLIMPSE_PROVIDER_API_KEY", "")

	if _, err := loadWith(newFileBackend(filepath.Join(t.TempDir(), "absent.json"))); err == nil {
		t.Error("want error when provider API key is missing")
	}
}

func TestLoad_FileValues(t *testing.T) {
	t.Setenv("GLIMPSE_PROVIDER_API_KEY", "sk-test")

	b := writeConfigFile(t, `{
		"server.port": 8080,
		"provider.chat_model": "gpt-4o",
		"log.level": "debug"
	}`)
	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Provider.ChatModel != "gpt-4o" {
		t.Errorf("chat model = %q", cfg.Provider.ChatModel)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("GLIMPSE_PROVIDER_API_KEY", "sk-test")
	t.Setenv("GLIMPSE_SERVER_PORT", "9999")

	b := writeConfigFile(t, `{"server.port": 8080}`)
	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want env override 9999", cfg.Server.Port)
	}
}

func TestLoad_BadEnvIntKeepsDefault(t *testing.T) {
	t.Setenv("GLIMPSE_PROVIDER_API_KEY", "sk-test")
	t.Setenv("GLIMPSE_RETRIEVAL_TOP_K", "lots")

	cfg, err := loadWith(newFileBackend(filepath.Join(t.TempDir(), "absent.json")))
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("top_k = %d, want default 5", cfg.Retrieval.TopK)
	}
}

func TestFileBackend_NonIntegerValue(t *testing.T) {
	t.Setenv("GLIMPSE_PROVIDER_API_KEY", "sk-test")

	b := writeConfigFile(t, `{"server.port": "eighty"}`)
	if _, err := loadWith(b); err == nil {
		t.Error("want error for non-integer port in file")
	}
}

func TestFileBackend_MalformedFileFallsBack(t *testing.T) {
	t.Setenv("GLIMPSE_PROVIDER_API_KEY", "sk-test")

	b := writeConfigFile(t, `{broken`)
	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("port = %d, want default after malformed file", cfg.Server.Port)
	}
}
