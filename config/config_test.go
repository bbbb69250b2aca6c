package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"slimhogs/crypto"
)

func init() {
	crypto.UseLightKDF()
}

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "piggyd.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8545", cfg.RPCAddress)
	require.Equal(t, filepath.Join(dir, "custody.keystore"), cfg.CustodyKeystore)

	key, err := crypto.LoadFromKeystore(cfg.CustodyKeystore, "")
	require.NoError(t, err)
	require.Equal(t, key.Address().Hex(), cfg.CustodyAddress)

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.CustodyAddress, reloaded.CustodyAddress)
	require.Equal(t, "PIGGY_JWT_SECRET", reloaded.Auth.HMACSecretEnv)
}

func TestLoadParsesSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "piggyd.toml")
	contents := `RPCAddress = "127.0.0.1:9000"
DataDir = "/var/lib/piggy"
CustodyAddress = "0x00000000000000000000000000000000000000cc"
CustodyKeystore = "/etc/piggy/custody.keystore"

[Auth]
HMACSecret = "file-secret"
HMACSecretEnv = "PIGGY_TEST_SECRET"
Issuer = "desk"

[RateLimit]
RequestsPerMinute = 30
Burst = 5

[Oracle]
FeedFile = "feed.yaml"

[Journal]
DSN = "journal.db"

[NATS]
URL = "nats://127.0.0.1:4222"
Stream = "PIGGY"
SubjectPrefix = "piggy.events"

[Telemetry]
Endpoint = "otel:4318"
Traces = true

[[Tokens]]
Address = "0x00000000000000000000000000000000000000c0"
Kind = "memory"
Symbol = "PIG"
Decimals = 18
Supply = "1000000"
Deployer = "0x00000000000000000000000000000000000000a1"

[[Tokens]]
Address = "0x00000000000000000000000000000000000000c1"
Kind = "erc20"
RPCURL = "http://127.0.0.1:8545"
ChainID = 31337
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.RPCAddress)
	require.Equal(t, 30, cfg.RateLimit.RequestsPerMinute)
	require.Equal(t, "feed.yaml", cfg.Oracle.FeedFile)
	require.Equal(t, "PIGGY", cfg.NATS.Stream)
	require.True(t, cfg.Telemetry.Traces)
	require.Len(t, cfg.Tokens, 2)
	require.Equal(t, uint64(31337), cfg.Tokens[1].ChainID)

	require.Equal(t, "file-secret", cfg.Auth.Secret())
	t.Setenv("PIGGY_TEST_SECRET", "env-secret")
	require.Equal(t, "env-secret", cfg.Auth.Secret())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "piggyd.toml")
	require.NoError(t, os.WriteFile(path, []byte("RPCAddress = \":1\"\nCustodyAddress = \"0x00000000000000000000000000000000000000cc\"\nListenAddress = \":2\"\n"), 0o600))
	_, err := Load(path)
	require.ErrorContains(t, err, "ListenAddress")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			RPCAddress:     ":8545",
			CustodyAddress: "0x00000000000000000000000000000000000000cc",
			Tokens: []Token{{
				Address:  "0x00000000000000000000000000000000000000c0",
				Kind:     TokenKindMemory,
				Supply:   "1000",
				Deployer: "0x00000000000000000000000000000000000000a1",
			}},
		}
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(*Config){
		"bad custody":     func(c *Config) { c.CustodyAddress = "nope" },
		"negative limit":  func(c *Config) { c.RateLimit.Burst = -1 },
		"unknown kind":    func(c *Config) { c.Tokens[0].Kind = "wrapped" },
		"bad supply":      func(c *Config) { c.Tokens[0].Supply = "lots" },
		"missing rpc url": func(c *Config) { c.Tokens[0].Kind = TokenKindERC20 },
		"duplicate token": func(c *Config) { c.Tokens = append(c.Tokens, c.Tokens[0]) },
		"no rpc address":  func(c *Config) { c.RPCAddress = "" },
	}
	for name, mutate := range cases {
		cfg := valid()
		mutate(cfg)
		require.Errorf(t, cfg.Validate(), name)
	}
}
