package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime settings for the marketplace daemon.
type Config struct {
	ListenAddress string         `yaml:"listen"`
	ParamsPath    string         `yaml:"params"`
	Treasury      string         `yaml:"treasury"`
	ProtocolOwner string         `yaml:"protocol_owner"`
	Auth          AuthConfig     `yaml:"auth"`
	RateLimit     RateConfig     `yaml:"rate_limit"`
	Database      DatabaseConfig `yaml:"database"`
	Vault         VaultConfig    `yaml:"vault"`
	LogFile       string         `yaml:"log_file"`
}

// VaultConfig seeds the in-process settlement vault at startup so deposits and
// repayments can settle against funded accounts. A production deployment
// backed by a real settlement rail leaves this empty.
type VaultConfig struct {
	Seed []SeedAccount `yaml:"seed"`
}

// SeedAccount is one address funded at daemon startup. Amount is a positive
// decimal integer string.
type SeedAccount struct {
	Address string `yaml:"address"`
	Amount  string `yaml:"amount"`
}

// AuthConfig lists the bearer tokens accepted by the API. An empty list leaves
// the API open, which is only acceptable for local development.
type AuthConfig struct {
	APITokens []string `yaml:"api_tokens"`
}

// RateConfig caps API throughput. A zero RPS disables throttling.
type RateConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// DatabaseConfig selects the read-model backend. Supported drivers are
// "sqlite" and "postgres"; an empty driver disables the indexer.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: ":8645",
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8645"
	}
	cfg.ParamsPath = strings.TrimSpace(cfg.ParamsPath)
	cfg.Treasury = strings.TrimSpace(cfg.Treasury)
	cfg.ProtocolOwner = strings.TrimSpace(cfg.ProtocolOwner)
	cfg.LogFile = strings.TrimSpace(cfg.LogFile)
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	cfg.Database.DSN = strings.TrimSpace(cfg.Database.DSN)

	for i := range cfg.Vault.Seed {
		cfg.Vault.Seed[i].Address = strings.TrimSpace(cfg.Vault.Seed[i].Address)
		cfg.Vault.Seed[i].Amount = strings.TrimSpace(cfg.Vault.Seed[i].Amount)
	}

	tokens := make([]string, 0, len(cfg.Auth.APITokens))
	for _, token := range cfg.Auth.APITokens {
		if trimmed := strings.TrimSpace(token); trimmed != "" {
			tokens = append(tokens, trimmed)
		}
	}
	cfg.Auth.APITokens = tokens
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if cfg.Treasury == "" {
		return fmt.Errorf("treasury address is required")
	}
	if cfg.ProtocolOwner == "" {
		return fmt.Errorf("protocol_owner address is required")
	}
	if cfg.Treasury == cfg.ProtocolOwner {
		return fmt.Errorf("treasury and protocol_owner must be distinct addresses")
	}
	if err := cfg.RateLimit.validate(); err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}
	if err := cfg.Database.validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := cfg.Vault.validate(); err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	return nil
}

func (cfg VaultConfig) validate() error {
	for _, account := range cfg.Seed {
		if account.Address == "" {
			return fmt.Errorf("seed account address is required")
		}
		amount, ok := new(big.Int).SetString(account.Amount, 10)
		if !ok || amount.Sign() <= 0 {
			return fmt.Errorf("seed account %q amount %q must be a positive integer", account.Address, account.Amount)
		}
	}
	return nil
}

func (cfg RateConfig) validate() error {
	if cfg.RPS < 0 {
		return fmt.Errorf("rps must not be negative")
	}
	if cfg.Burst < 0 {
		return fmt.Errorf("burst must not be negative")
	}
	return nil
}

func (cfg DatabaseConfig) validate() error {
	switch cfg.Driver {
	case "":
		if cfg.DSN != "" {
			return fmt.Errorf("dsn requires a driver")
		}
		return nil
	case "sqlite", "postgres":
		if cfg.DSN == "" {
			return fmt.Errorf("driver %q requires a dsn", cfg.Driver)
		}
		return nil
	default:
		return fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
}

// IndexerEnabled reports whether a read-model backend is configured.
func (cfg DatabaseConfig) IndexerEnabled() bool {
	return cfg.Driver != ""
}
