package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the process configuration, loaded once at startup and
// threaded through constructors. Runtime toggles live in Settings.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Provider   string           `mapstructure:"provider"` // "openrouter" or "emulator"
	Network    NetworkConfig    `mapstructure:"network"`
	OpenRouter OpenRouterConfig `mapstructure:"openrouter"`
	Emulator   EmulatorConfig   `mapstructure:"emulator"`
	History    HistoryConfig    `mapstructure:"history"`
	Search     SearchConfig     `mapstructure:"search"`
	Image      ImageConfig      `mapstructure:"image"`
}

type ServerConfig struct {
	Addr    string `mapstructure:"addr"`
	DataDir string `mapstructure:"data_dir"` // generated images land here
}

// NetworkConfig holds the startup value of the network toggle.
type NetworkConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// OpenRouterConfig configures the cloud aggregator backend.
type OpenRouterConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	APIKeyFile string `mapstructure:"api_key_file"` // read when api_key is empty
	AppURL     string `mapstructure:"app_url"`
	AppTitle   string `mapstructure:"app_title"`
	TitleModel string `mapstructure:"title_model"` // model for background title generation
}

// EmulatorConfig configures the local inference backend, reached
// through the emulator adapter.
type EmulatorConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"` // defaults to the XDG data dir
}

type SearchConfig struct {
	APIKey     string `mapstructure:"api_key"`
	MaxResults int    `mapstructure:"max_results"`
}

type ImageConfig struct {
	OutputDir string `mapstructure:"output_dir"`
	PublicURL string `mapstructure:"public_url"` // prefix under which output_dir is served
}

func Load() (*Config, error) {
	configPath, err := GetConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config dir: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configPath)
	viper.AddConfigPath(".")

	setDefaults()

	viper.SetEnvPrefix("LLMHUB")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Missing config file is fine; defaults and env apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.OpenRouter.APIKey == "" && cfg.OpenRouter.APIKeyFile != "" {
		if key, err := os.ReadFile(cfg.OpenRouter.APIKeyFile); err == nil {
			cfg.OpenRouter.APIKey = strings.TrimSpace(string(key))
		}
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.addr", ":8001")
	viper.SetDefault("server.data_dir", "data")
	viper.SetDefault("provider", "openrouter")
	viper.SetDefault("network.enabled", true)
	viper.SetDefault("openrouter.base_url", "https://openrouter.ai/api/v1")
	viper.SetDefault("openrouter.app_url", "http://localhost:8001")
	viper.SetDefault("openrouter.app_title", "LLM Hub")
	viper.SetDefault("openrouter.title_model", "openai/gpt-4o-mini")
	viper.SetDefault("emulator.base_url", "http://localhost:8000/api/v1")
	viper.SetDefault("history.enabled", true)
	viper.SetDefault("search.max_results", 5)
	viper.SetDefault("image.output_dir", "data")
	viper.SetDefault("image.public_url", "http://localhost:8001/data")
}

// GetConfigDir returns the XDG config directory for llmhub.
func GetConfigDir() (string, error) {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "llmhub"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "llmhub"), nil
}
