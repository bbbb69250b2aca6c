package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"slimhogs/crypto"
)

type Config struct {
	RPCAddress      string `toml:"RPCAddress"`
	DataDir         string `toml:"DataDir"`
	Environment     string `toml:"Environment,omitempty"`
	LogFile         string `toml:"LogFile,omitempty"`
	LogLevel        string `toml:"LogLevel,omitempty"`
	CustodyAddress  string `toml:"CustodyAddress"`
	CustodyKeystore string `toml:"CustodyKeystore,omitempty"`
	CustodyPassEnv  string `toml:"CustodyPassEnv,omitempty"`

	Auth      Auth      `toml:"Auth"`
	RateLimit RateLimit `toml:"RateLimit"`
	Oracle    Oracle    `toml:"Oracle"`
	Journal   Journal   `toml:"Journal"`
	NATS      NATS      `toml:"NATS"`
	Telemetry Telemetry `toml:"Telemetry"`
	Tokens    []Token   `toml:"Tokens"`
}

// Load loads the configuration from the given path. A missing file is
// replaced by a default configuration with a freshly generated custody key.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0].String())
	}

	if strings.TrimSpace(cfg.CustodyAddress) == "" {
		if err := ensureCustody(path, cfg); err != nil {
			return nil, err
		}
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./piggy-data"
	}
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8545"
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 20
	}
	if cfg.Tokens == nil {
		cfg.Tokens = []Token{}
	}
}

// ensureCustody generates a custody key for configs that do not name a
// custody account and records it in the file.
func ensureCustody(configPath string, cfg *Config) error {
	keystorePath := cfg.CustodyKeystore
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}
	if _, err := os.Stat(keystorePath); err == nil {
		return fmt.Errorf("config: CustodyAddress missing but keystore %s exists; set CustodyAddress", keystorePath)
	} else if !os.IsNotExist(err) {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystore(keystorePath, key, passphraseFromEnv(cfg.CustodyPassEnv)); err != nil {
		return err
	}
	cfg.CustodyKeystore = keystorePath
	cfg.CustodyAddress = key.Address().Hex()
	return persist(configPath, cfg)
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:     ":8545",
		DataDir:        "./piggy-data",
		Environment:    "dev",
		CustodyPassEnv: "PIGGY_CUSTODY_PASSPHRASE",
		Auth:           Auth{HMACSecretEnv: "PIGGY_JWT_SECRET", Issuer: "piggyctl"},
		RateLimit:      RateLimit{RequestsPerMinute: 120, Burst: 20},
		Tokens:         []Token{},
	}
	if err := ensureCustody(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "custody.keystore")
}

func passphraseFromEnv(envVar string) string {
	if envVar = strings.TrimSpace(envVar); envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}
