package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"slimhogs/crypto"
	"slimhogs/native/piggy"
	"slimhogs/rpc"
)

const (
	writerHex = "0x00000000000000000000000000000000000000a1"
	tokenHex  = "0x00000000000000000000000000000000000000c0"
)

func TestFingerprintCommandPrintsDigest(t *testing.T) {
	var out bytes.Buffer
	args := []string{
		"-creator", writerHex,
		"-collateral", tokenHex,
		"-amount", "1000",
		"-strike", "100",
		"-expiry", "2000",
		"-european",
		"-nonce", "7",
	}
	if err := runFingerprint(args, &out); err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	want := piggy.Fingerprint(piggy.Terms{
		Creator:    common.HexToAddress(writerHex),
		Collateral: common.HexToAddress(tokenHex),
		Amount:     uint256.NewInt(1000),
		LotSize:    uint256.NewInt(1),
		Strike:     uint256.NewInt(100),
		Expiry:     2000,
		European:   true,
		Nonce:      uint256.NewInt(7),
	})
	if !strings.Contains(out.String(), want.Hex()) {
		t.Fatalf("output does not contain %s:\n%s", want.Hex(), out.String())
	}
	if !strings.Contains(out.String(), "european call") {
		t.Fatalf("missing style row:\n%s", out.String())
	}
}

func TestFingerprintCommandRejectsBadTerms(t *testing.T) {
	var out bytes.Buffer
	if err := runFingerprint([]string{"-creator", writerHex, "-collateral", tokenHex, "-amount", "0", "-expiry", "5"}, &out); err == nil {
		t.Fatalf("expected zero amount to be rejected")
	}
	if err := runFingerprint([]string{"-creator", "a1", "-collateral", tokenHex, "-amount", "1", "-expiry", "5"}, &out); err == nil {
		t.Fatalf("expected unprefixed creator to be rejected")
	}
}

func TestTokenCommandReadsDotenv(t *testing.T) {
	const secretEnv = "PIGGYCTL_TEST_SECRET"
	os.Unsetenv(secretEnv)
	t.Cleanup(func() { os.Unsetenv(secretEnv) })

	envFile := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte(secretEnv+"=dotenv-secret\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}

	var out bytes.Buffer
	err := runToken([]string{"-caller", writerHex, "-secret-env", secretEnv, "-env-file", envFile}, &out)
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(out.String()))
	auth := rpc.NewAuthenticator(rpc.AuthConfig{HMACSecret: "dotenv-secret", Issuer: defaultIssuer})
	caller, rpcErr := auth.Authenticate(req)
	if rpcErr != nil {
		t.Fatalf("authenticate: %v", rpcErr)
	}
	if caller != common.HexToAddress(writerHex) {
		t.Fatalf("unexpected caller %s", caller.Hex())
	}
}

func TestTokenCommandRequiresSecret(t *testing.T) {
	const secretEnv = "PIGGYCTL_TEST_MISSING_SECRET"
	os.Unsetenv(secretEnv)
	var out bytes.Buffer
	err := runToken([]string{"-caller", writerHex, "-secret-env", secretEnv, "-env-file", ""}, &out)
	if err == nil || !strings.Contains(err.Error(), secretEnv) {
		t.Fatalf("expected missing secret error, got %v", err)
	}
}

func TestKeygenWritesKeystore(t *testing.T) {
	t.Setenv("PIGGYCTL_TEST_PASS", "correct horse")
	path := filepath.Join(t.TempDir(), "custody.keystore")

	var out bytes.Buffer
	if err := runKeygen([]string{"-out", path, "-pass-env", "PIGGYCTL_TEST_PASS", "-light-kdf"}, &out); err != nil {
		t.Fatalf("keygen: %v", err)
	}
	key, err := crypto.LoadFromKeystore(path, "correct horse")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !strings.Contains(out.String(), key.Address().Hex()) {
		t.Fatalf("output does not name the address:\n%s", out.String())
	}

	if err := runKeygen([]string{"-out", path, "-pass-env", "PIGGYCTL_TEST_PASS", "-light-kdf"}, &out); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
}
