package core

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml"
)

// Config is the optional TOML file a deployment uses to pin key material
// and shared endpoints. Environment variables override it per service.
type Config struct {
	Ledger    LedgerConfig  `toml:"ledger"`
	Storage   StorageConfig `toml:"storage"`
	Payment   PaymentConfig `toml:"payment"`
	Producer  RoleConfig    `toml:"producer"`
	Worker    RoleConfig    `toml:"worker"`
	Verifier  RoleConfig    `toml:"verifier"`
	Estimator RoleConfig    `toml:"estimator"`
}

type LedgerConfig struct {
	URL           string `toml:"url"`
	Dir           string `toml:"dir"`
	StreamAddress string `toml:"stream_address"`
}

type StorageConfig struct {
	IPFSURL string `toml:"ipfs_url"`
}

type PaymentConfig struct {
	GatewayURL string `toml:"gateway_url"`
}

type RoleConfig struct {
	KeyDir string `toml:"key_dir"`
	Name   string `toml:"name"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	tree, err := toml.Load(string(data))
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	var cfg Config
	if err := tree.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Save writes the configuration back out, used by provisioning.
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(*c)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}
