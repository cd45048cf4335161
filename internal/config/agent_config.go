package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// AgentConfigStore persists the AgentConfig with an atomic
// write-to-temp-then-rename, so readers never observe a half-written file.
type AgentConfigStore struct {
	path string
	mu   sync.Mutex
}

func NewAgentConfigStore(path string) *AgentConfigStore {
	return &AgentConfigStore{path: path}
}

// Load reads the current agent configuration, falling back to defaults when
// the file is missing or unreadable.
func (s *AgentConfigStore) Load() AgentConfig {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if err != nil {
		return DefaultAgentConfig()
	}

	cfg := DefaultAgentConfig()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return DefaultAgentConfig()
	}
	return cfg
}

// Save replaces the persisted configuration atomically.
func (s *AgentConfigStore) Save(cfg AgentConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal agent config: %w", err)
	}

	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(b); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync temp config: %w", err)
	}
	f.Close()

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}
	return nil
}

// Update applies fn to the current configuration and saves the result.
func (s *AgentConfigStore) Update(fn func(*AgentConfig)) (AgentConfig, error) {
	cfg := s.Load()
	fn(&cfg)
	if err := s.Save(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
