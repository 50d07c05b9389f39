package config

import "sync"

// Settings holds the runtime toggles (network on/off, active provider).
// It is an explicit value constructed at startup and passed to whoever
// needs it, never a package-level singleton; this keeps the core
// testable and free of hidden cross-test state.
type Settings struct {
	mu             sync.RWMutex
	networkEnabled bool
	provider       string
}

func NewSettings(cfg *Config) *Settings {
	return &Settings{
		networkEnabled: cfg.Network.Enabled,
		provider:       cfg.Provider,
	}
}

func (s *Settings) NetworkEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.networkEnabled
}

func (s *Settings) SetNetworkEnabled(enabled bool) {
	s.mu.Lock()
	s.networkEnabled = enabled
	s.mu.Unlock()
}

func (s *Settings) Provider() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider
}

func (s *Settings) SetProvider(provider string) {
	s.mu.Lock()
	s.provider = provider
	s.mu.Unlock()
}
