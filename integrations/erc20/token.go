package erc20

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"

	"slimhogs/crypto"
	"slimhogs/native/token"
)

const (
	defaultGasLimit     = uint64(120_000)
	defaultPollInterval = 2 * time.Second
	defaultMineTimeout  = 90 * time.Second
)

var (
	ErrReverted = errors.New("erc20: transaction reverted")
	ErrOverflow = errors.New("erc20: value exceeds 256 bits")
)

const erc20JSON = `[
	{"name":"transfer","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"name":"transferFrom","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"name":"approve","type":"function","stateMutability":"nonpayable",
	 "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"name":"allowance","type":"function","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]}
]`

// ABI is the subset of the ERC-20 interface the registry drives.
var ABI = mustParseABI(erc20JSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("erc20 abi parse: " + err.Error())
	}
	return parsed
}

// Backend is the slice of ethclient.Client used by Token.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// Token drives an on-chain ERC-20 contract. Only the custody key signs, so
// every mutating call must name the custody account as its actor.
type Token struct {
	backend  Backend
	contract common.Address
	key      *crypto.PrivateKey
	custody  common.Address
	signer   ethtypes.Signer
	logger   *slog.Logger

	// mu serialises nonce allocation and receipt waits.
	mu           sync.Mutex
	pollInterval time.Duration
	mineTimeout  time.Duration
}

var _ token.Token = (*Token)(nil)

// Dial connects to rpcURL and returns a Token for contract.
func Dial(ctx context.Context, rpcURL string, contract common.Address, chainID uint64, key *crypto.PrivateKey, logger *slog.Logger) (*Token, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("erc20: dial %s: %w", rpcURL, err)
	}
	if chainID == 0 {
		id, err := client.ChainID(ctx)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("erc20: chain id: %w", err)
		}
		chainID = id.Uint64()
	}
	return New(client, contract, new(big.Int).SetUint64(chainID), key, logger)
}

// New wraps an existing backend.
func New(backend Backend, contract common.Address, chainID *big.Int, key *crypto.PrivateKey, logger *slog.Logger) (*Token, error) {
	if backend == nil {
		return nil, fmt.Errorf("erc20: nil backend")
	}
	if key == nil {
		return nil, fmt.Errorf("erc20: custody key required")
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("erc20: chain id required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Token{
		backend:      backend,
		contract:     contract,
		key:          key,
		custody:      key.Address(),
		signer:       ethtypes.LatestSignerForChainID(chainID),
		logger:       logger.With("component", "erc20", "contract", contract.Hex()),
		pollInterval: defaultPollInterval,
		mineTimeout:  defaultMineTimeout,
	}, nil
}

// Address returns the contract address.
func (t *Token) Address() common.Address { return t.contract }

func (t *Token) BalanceOf(ctx context.Context, holder common.Address) (*uint256.Int, error) {
	return t.callUint(ctx, "balanceOf", holder)
}

// Allowance reads the on-chain allowance granted by owner to spender.
func (t *Token) Allowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error) {
	return t.callUint(ctx, "allowance", owner, spender)
}

func (t *Token) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	if err := t.checkActor(from); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return token.ErrInvalidRecipient
	}
	return t.send(ctx, "transfer", to, toBig(amount))
}

func (t *Token) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error {
	if err := t.checkActor(spender); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return token.ErrInvalidRecipient
	}
	return t.send(ctx, "transferFrom", from, to, toBig(amount))
}

func (t *Token) Approve(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error {
	if err := t.checkActor(owner); err != nil {
		return err
	}
	return t.send(ctx, "approve", spender, toBig(amount))
}

func (t *Token) checkActor(actor common.Address) error {
	if actor != t.custody {
		return fmt.Errorf("%w: %s cannot sign for %s", token.ErrUnauthorized, t.custody.Hex(), actor.Hex())
	}
	return nil
}

func (t *Token) callUint(ctx context.Context, method string, args ...interface{}) (*uint256.Int, error) {
	data, err := ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("erc20: pack %s: %w", method, err)
	}
	out, err := t.backend.CallContract(ctx, ethereum.CallMsg{To: &t.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("erc20: call %s: %w", method, err)
	}
	values, err := ABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("erc20: unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("erc20: %s returned %d values", method, len(values))
	}
	raw, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("erc20: %s returned %T", method, values[0])
	}
	result, overflow := uint256.FromBig(raw)
	if overflow {
		return nil, ErrOverflow
	}
	return result, nil
}

// send signs and submits a contract call from the custody account and waits
// for it to be mined. A failed receipt is reported as ErrReverted.
func (t *Token) send(ctx context.Context, method string, args ...interface{}) error {
	data, err := ABI.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("erc20: pack %s: %w", method, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	nonce, err := t.backend.PendingNonceAt(ctx, t.custody)
	if err != nil {
		return fmt.Errorf("erc20: nonce: %w", err)
	}
	gasPrice, err := t.backend.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("erc20: gas price: %w", err)
	}
	gas, err := t.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     t.custody,
		To:       &t.contract,
		GasPrice: gasPrice,
		Data:     data,
	})
	if err != nil {
		// estimation runs the call, so a failure here is a revert we can
		// report without paying for it
		return fmt.Errorf("%w: %s: %v", ErrReverted, method, err)
	}
	if gas == 0 {
		gas = defaultGasLimit
	}
	gas = gas * 12 / 10

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &t.contract,
		Value:    new(big.Int),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := ethtypes.SignTx(tx, t.signer, t.key.PrivateKey)
	if err != nil {
		return fmt.Errorf("erc20: sign %s: %w", method, err)
	}
	if err := t.backend.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("erc20: send %s: %w", method, err)
	}
	t.logger.Debug("transaction sent", "method", method, "tx", signed.Hash().Hex(), "nonce", nonce)

	receipt, err := t.waitMined(ctx, signed.Hash())
	if err != nil {
		return fmt.Errorf("erc20: %s %s: %w", method, signed.Hash().Hex(), err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: %s %s", ErrReverted, method, signed.Hash().Hex())
	}
	return nil
}

func (t *Token) waitMined(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, t.mineTimeout)
	defer cancel()

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := t.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}
