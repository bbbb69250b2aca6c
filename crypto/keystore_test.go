package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func init() {
	UseLightKDF()
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "nested", "custody.keystore")
	require.NoError(t, SaveToKeystore(path, key, "hunter2"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadFromKeystore(path, "hunter2")
	require.NoError(t, err)
	require.Equal(t, key.Address(), loaded.Address())
	require.Equal(t, key.Bytes(), loaded.Bytes())

	_, err = LoadFromKeystore(path, "wrong")
	require.Error(t, err)
}

func TestKeystoreRejectsBadInput(t *testing.T) {
	require.Error(t, SaveToKeystore(filepath.Join(t.TempDir(), "k"), nil, ""))
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	require.Error(t, SaveToKeystore("", key, ""))
	_, err = LoadFromKeystore("", "")
	require.Error(t, err)
}

func TestKeyParsing(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	fromBytes, err := PrivateKeyFromBytes(key.Bytes())
	require.NoError(t, err)
	require.Equal(t, key.Address(), fromBytes.Address())

	// well-known test vector: private key 1
	one, err := PrivateKeyFromHex("0x0000000000000000000000000000000000000000000000000000000000000001")
	require.NoError(t, err)
	require.Equal(t, "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf", one.Address().Hex())

	addr, err := ParseAddress(" 0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf ")
	require.NoError(t, err)
	require.Equal(t, one.Address(), addr)
	_, err = ParseAddress("7E5F4552091A69125d5DfCb7b8C2659029395Bdf")
	require.Error(t, err)
}
