package rpc

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"slimhogs/crypto"
	"slimhogs/native/piggy"
	"slimhogs/observability/journal"
)

// termsJSON carries piggy terms. Integers are decimal strings so 256-bit
// values survive JSON clients that parse numbers as doubles.
type termsJSON struct {
	Creator    string `json:"creator"`
	Collateral string `json:"collateral"`
	Amount     string `json:"amount"`
	LotSize    string `json:"lotSize"`
	Strike     string `json:"strike"`
	Expiry     uint64 `json:"expiry"`
	Decimals   uint8  `json:"decimals"`
	European   bool   `json:"european"`
	Put        bool   `json:"put"`
	Nonce      string `json:"nonce"`
}

func (t termsJSON) toTerms() (piggy.Terms, error) {
	creator, err := crypto.ParseAddress(t.Creator)
	if err != nil {
		return piggy.Terms{}, fmt.Errorf("creator: %w", err)
	}
	collateral, err := crypto.ParseAddress(t.Collateral)
	if err != nil {
		return piggy.Terms{}, fmt.Errorf("collateral: %w", err)
	}
	amount, err := parseAmount("amount", t.Amount)
	if err != nil {
		return piggy.Terms{}, err
	}
	lot, err := parseAmount("lotSize", t.LotSize)
	if err != nil {
		return piggy.Terms{}, err
	}
	strike, err := parseAmount("strike", t.Strike)
	if err != nil {
		return piggy.Terms{}, err
	}
	nonce, err := parseAmount("nonce", t.Nonce)
	if err != nil {
		return piggy.Terms{}, err
	}
	return piggy.Terms{
		Creator:    creator,
		Collateral: collateral,
		Amount:     amount,
		LotSize:    lot,
		Strike:     strike,
		Expiry:     t.Expiry,
		Decimals:   t.Decimals,
		European:   t.European,
		Put:        t.Put,
		Nonce:      nonce,
	}, nil
}

// parseAmount accepts a decimal string. Empty means zero.
func parseAmount(field, raw string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid amount %q", field, raw)
	}
	return v, nil
}

func parseOptionalAddress(field, raw string) (common.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return common.Address{}, nil
	}
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr, nil
}

type createParams struct {
	Terms        termsJSON `json:"terms"`
	Resolver     string    `json:"resolver,omitempty"`
	Arbiter      string    `json:"arbiter,omitempty"`
	Counterparty string    `json:"counterparty,omitempty"`
}

type termsParams struct {
	Terms termsJSON `json:"terms"`
}

type transferParams struct {
	Terms    termsJSON `json:"terms"`
	NewOwner string    `json:"newOwner"`
}

type settleParams struct {
	Terms  termsJSON `json:"terms"`
	Holder string    `json:"holder"`
}

type claimParams struct {
	Terms  termsJSON `json:"terms"`
	Amount string    `json:"amount"`
}

type approvalParams struct {
	Fingerprint string `json:"fingerprint,omitempty"`
	Operator    string `json:"operator"`
	Approved    bool   `json:"approved"`
}

type fingerprintParams struct {
	Fingerprint string `json:"fingerprint"`
	Limit       int    `json:"limit,omitempty"`
}

type balanceParams struct {
	Token  string `json:"token"`
	Holder string `json:"holder"`
}

type fingerprintResult struct {
	Fingerprint string `json:"fingerprint"`
	Encoded     string `json:"encoded"`
}

type ownerResult struct {
	Owner string `json:"owner"`
}

type okResult struct {
	OK bool `json:"ok"`
}

type balanceResult struct {
	Token   string `json:"token"`
	Holder  string `json:"holder"`
	Balance string `json:"balance"`
}

type positionJSON struct {
	Fingerprint     string  `json:"fingerprint"`
	State           string  `json:"state"`
	Owner           string  `json:"owner"`
	Writer          string  `json:"writer"`
	Token           string  `json:"token"`
	Locked          string  `json:"locked"`
	Holder          *string `json:"holder,omitempty"`
	Payout          string  `json:"payout"`
	SettlementValue *string `json:"settlementValue,omitempty"`
	Resolver        *string `json:"resolver,omitempty"`
	Arbiter         *string `json:"arbiter,omitempty"`
	Request         bool    `json:"request"`
	CreatedAt       uint64  `json:"createdAt"`
	SettledAt       uint64  `json:"settledAt,omitempty"`
}

func formatPosition(pos *piggy.Position) positionJSON {
	out := positionJSON{
		Fingerprint: pos.Fingerprint.Hex(),
		State:       pos.State.String(),
		Owner:       pos.Owner.Hex(),
		Writer:      pos.Writer.Hex(),
		Token:       pos.Token.Hex(),
		Locked:      decimal(pos.Locked),
		Payout:      decimal(pos.Payout),
		Request:     pos.Request,
		CreatedAt:   pos.CreatedAt,
		SettledAt:   pos.SettledAt,
	}
	out.Holder = optionalAddress(pos.Holder)
	out.Resolver = optionalAddress(pos.Resolver)
	out.Arbiter = optionalAddress(pos.Arbiter)
	if pos.SettlementValue != nil && pos.State != piggy.StateOpen {
		v := pos.SettlementValue.Dec()
		out.SettlementValue = &v
	}
	return out
}

type historyEntryJSON struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  int64             `json:"createdAt"`
}

func formatHistory(entries []journal.Entry) ([]historyEntryJSON, error) {
	out := make([]historyEntryJSON, 0, len(entries))
	for _, entry := range entries {
		attrs, err := entry.Decode()
		if err != nil {
			return nil, err
		}
		out = append(out, historyEntryJSON{
			ID:         entry.ID.String(),
			Type:       entry.Type,
			Attributes: attrs,
			CreatedAt:  entry.CreatedAt.Unix(),
		})
	}
	return out, nil
}

func optionalAddress(addr common.Address) *string {
	if addr == (common.Address{}) {
		return nil
	}
	hex := addr.Hex()
	return &hex
}

func decimal(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func encodedTerms(terms piggy.Terms) string {
	return hexutil.Encode(piggy.Encode(terms))
}

func decodeParams(raw json.RawMessage, dst interface{}) *RPCError {
	if err := json.Unmarshal(raw, dst); err != nil {
		return invalidParams("%v", err)
	}
	return nil
}
