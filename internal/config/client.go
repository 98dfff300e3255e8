package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ClientConfig is the terminal client's configuration, read from a yaml
// file.
type ClientConfig struct {
	RelayURL    string `yaml:"relay_url"`    // e.g. http://localhost:8000
	PartyID     string `yaml:"party_id"`     // local party identifier
	DisplayName string `yaml:"display_name"` // shown for own messages
	JWTSecret   string `yaml:"jwt_secret"`   // shared secret for token minting

	// AgentName is the display name for assistant/agent counterparts.
	AgentName string `yaml:"agent_name"`
	// Roster maps participant ids to display names for group chats.
	Roster map[string]string `yaml:"roster"`
}

// LoadClient reads the client configuration from a yaml file and applies
// defaults.
func LoadClient(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg ClientConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.RelayURL == "" {
		cfg.RelayURL = "http://localhost:8000"
	}
	if cfg.AgentName == "" {
		cfg.AgentName = "Project Manager"
	}
	if cfg.PartyID == "" {
		return nil, fmt.Errorf("party_id is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt_secret is required")
	}
	return &cfg, nil
}

// WSBaseURL converts the relay HTTP URL into its websocket form.
func (c *ClientConfig) WSBaseURL() string {
	switch {
	case len(c.RelayURL) > 5 && c.RelayURL[:5] == "https":
		return "wss" + c.RelayURL[5:]
	case len(c.RelayURL) > 4 && c.RelayURL[:4] == "http":
		return "ws" + c.RelayURL[4:]
	}
	return c.RelayURL
}
