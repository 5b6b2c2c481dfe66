package config

import (
	"os"
	"path/filepath"
)

// DataDir resolves the bridge's data directory (~/.pocketbridge),
// creating it if needed. Persisted state, the lockfile, and the default
// rules document live here.
func DataDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(homeDir, ".pocketbridge")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// StatePath returns the sqlite database path, using the configured
// override when set.
func (c *Config) StatePath() (string, error) {
	if c.State.Path != "" {
		return c.State.Path, nil
	}
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "state.db"), nil
}

// RulesPath returns the rule document path, using the configured
// override when set.
func (c *Config) RulesPath() (string, error) {
	if c.Rules.Path != "" {
		return c.Rules.Path, nil
	}
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "rules.yaml"), nil
}
