package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	Server  ServerConfig
	Ollama  OllamaConfig
	Storage StorageConfig
	Graph   GraphConfig
	API     APIConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type StorageConfig struct {
	DataDir string
}

type GraphConfig struct {
	HashIDs bool
}

type APIConfig struct {
	Token string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
			Model:   "llama3.2",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Graph: GraphConfig{
			HashIDs: false,
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
			return "selfgraph-data"
		}
	}
	return filepath.Join(dir, "selfgraph")
}

// Load reads configuration from the JSON file backend
// ($XDG_CONFIG_HOME/selfgraph/config.json) and environment variables.
//
// Environment variables (SELFGRAPH_*) override file values. If no API
// token is configured anywhere, one is generated and persisted to the
// config file so subsequent starts reuse it.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.API.Token == "" {
		token, err := generateToken()
		if err != nil {
			return Config{}, fmt.Errorf("generating api token: %w", err)
		}
		if err := b.SetString("api.token", token); err != nil {
			return Config{}, fmt.Errorf("persisting api token: %w", err)
		}
		cfg.API.Token = token
	}

	return cfg, nil
}

func generateToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
