package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"slimhogs/config"
	"slimhogs/core/events"
	"slimhogs/crypto"
)

func init() {
	crypto.UseLightKDF()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func freeAddress(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("allocate port: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()
	return addr
}

func TestBuildTokensRegistersMemoryCoin(t *testing.T) {
	addr := "0x00000000000000000000000000000000000000c0"
	deployer := "0x00000000000000000000000000000000000000a1"
	cfg := &config.Config{Tokens: []config.Token{{
		Address:  addr,
		Kind:     config.TokenKindMemory,
		Symbol:   "PIG",
		Decimals: 18,
		Supply:   "5000",
		Deployer: deployer,
	}}}
	noPass := func() (string, error) { return "", errors.New("not needed") }

	dir, err := buildTokens(context.Background(), cfg, events.NoopEmitter{}, noPass, discardLogger())
	if err != nil {
		t.Fatalf("build tokens: %v", err)
	}
	tok, err := dir.Token(common.HexToAddress(addr))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	bal, err := tok.BalanceOf(context.Background(), common.HexToAddress(deployer))
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Uint64() != 5000 {
		t.Fatalf("expected deployer to hold the supply, got %s", bal.Dec())
	}
}

func TestLoadCustodyKeyChecksAddress(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "custody.keystore")
	if err := crypto.SaveToKeystore(path, key, "hunter2"); err != nil {
		t.Fatalf("save: %v", err)
	}
	pass := func() (string, error) { return "hunter2", nil }

	cfg := &config.Config{CustodyKeystore: path, CustodyAddress: key.Address().Hex()}
	loaded, err := loadCustodyKey(cfg, pass)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Address() != key.Address() {
		t.Fatalf("loaded wrong key")
	}

	cfg.CustodyAddress = "0x00000000000000000000000000000000000000cc"
	if _, err := loadCustodyKey(cfg, pass); err == nil {
		t.Fatalf("expected address mismatch error")
	}
}

func TestRunServesUntilCancelled(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Load(filepath.Join(dir, "config.toml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.RPCAddress = freeAddress(t)
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.Journal.DSN = fmt.Sprintf("file:%s", filepath.Join(dir, "journal.db"))
	cfg.Tokens = []config.Token{{
		Address:  "0x00000000000000000000000000000000000000c0",
		Kind:     config.TokenKindMemory,
		Symbol:   "PIG",
		Supply:   "1000",
		Deployer: "0x00000000000000000000000000000000000000a1",
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, discardLogger(), false) }()

	url := "http://" + cfg.RPCAddress + "/healthz"
	deadline := time.Now().Add(5 * time.Second)
	for {
		res, err := http.Get(url)
		if err == nil {
			res.Body.Close()
			if res.StatusCode == http.StatusOK {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not become healthy: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop after cancel")
	}
}
