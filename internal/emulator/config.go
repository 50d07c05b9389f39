package emulator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the emulator's own small configuration, independent of the
// main backend so the adapter can run as a standalone process next to
// the inference server.
type Config struct {
	ListenAddr   string `yaml:"listen_addr"`
	LocalBaseURL string `yaml:"local_base_url"` // OpenAI-compatible endpoint of the inference server
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:   ":8000",
		LocalBaseURL: "http://localhost:5000/v1",
	}
}

// LoadConfig reads the YAML config file if present and applies
// environment overrides. A missing file yields defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read emulator config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse emulator config: %w", err)
		}
	}

	if v := os.Getenv("LLMHUB_EMULATOR_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("LLMHUB_LOCAL_BASE_URL"); v != "" {
		cfg.LocalBaseURL = v
	}
	return cfg, nil
}
