package config

import (
	"os"
	"strings"
)

// Token kinds.
const (
	TokenKindMemory = "memory"
	TokenKindERC20  = "erc20"
)

// Token binds a collateral token address to its implementation. Memory tokens
// are minted in-process at start-up; erc20 tokens are driven over JSON-RPC.
type Token struct {
	Address  string `toml:"Address"`
	Kind     string `toml:"Kind"`
	Symbol   string `toml:"Symbol,omitempty"`
	Decimals uint8  `toml:"Decimals,omitempty"`
	Supply   string `toml:"Supply,omitempty"`
	Deployer string `toml:"Deployer,omitempty"`
	RPCURL   string `toml:"RPCURL,omitempty"`
	ChainID  uint64 `toml:"ChainID,omitempty"`
}

// Auth configures bearer token verification on mutating RPC methods.
type Auth struct {
	HMACSecret       string `toml:"HMACSecret,omitempty"`
	HMACSecretEnv    string `toml:"HMACSecretEnv,omitempty"`
	Issuer           string `toml:"Issuer,omitempty"`
	Audience         string `toml:"Audience,omitempty"`
	ClockSkewSeconds int    `toml:"ClockSkewSeconds,omitempty"`
}

// Secret resolves the signing secret, preferring the environment variable.
func (a Auth) Secret() string {
	if env := strings.TrimSpace(a.HMACSecretEnv); env != "" {
		if value, ok := os.LookupEnv(env); ok && strings.TrimSpace(value) != "" {
			return value
		}
	}
	return a.HMACSecret
}

// RateLimit caps requests per client address.
type RateLimit struct {
	RequestsPerMinute int `toml:"RequestsPerMinute"`
	Burst             int `toml:"Burst"`
}

// Oracle points at the settlement value feed.
type Oracle struct {
	FeedFile string `toml:"FeedFile,omitempty"`
}

// Journal configures the SQL event journal. Empty DSN disables it.
type Journal struct {
	DSN string `toml:"DSN,omitempty"`
}

// NATS configures event publication to JetStream. Empty URL disables it.
type NATS struct {
	URL           string `toml:"URL,omitempty"`
	Stream        string `toml:"Stream,omitempty"`
	SubjectPrefix string `toml:"SubjectPrefix,omitempty"`
}

// Telemetry configures OTLP export.
type Telemetry struct {
	Endpoint string `toml:"Endpoint,omitempty"`
	Headers  string `toml:"Headers,omitempty"`
	Insecure bool   `toml:"Insecure"`
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`
}
