package oracle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"slimhogs/native/piggy"
)

// ErrNoPrice is returned when no settlement value is known for a position.
var ErrNoPrice = errors.New("oracle: no settlement value")

type seriesKey struct {
	token  common.Address
	expiry uint64
}

// Static is an in-memory settlement value table. Values set for a fingerprint
// take precedence over values set for a collateral token and expiry.
type Static struct {
	mu       sync.RWMutex
	byID     map[common.Hash]*uint256.Int
	bySeries map[seriesKey]*uint256.Int
}

func NewStatic() *Static {
	return &Static{
		byID:     make(map[common.Hash]*uint256.Int),
		bySeries: make(map[seriesKey]*uint256.Int),
	}
}

// SetFingerprint records the value for a single position.
func (s *Static) SetFingerprint(id common.Hash, value *uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[id] = new(uint256.Int).Set(value)
}

// SetSeries records the value for every position on token expiring at expiry.
func (s *Static) SetSeries(token common.Address, expiry uint64, value *uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySeries[seriesKey{token: token, expiry: expiry}] = new(uint256.Int).Set(value)
}

func (s *Static) SettlementValue(_ context.Context, id common.Hash, terms piggy.Terms) (*uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.byID[id]; ok {
		return new(uint256.Int).Set(v), nil
	}
	if v, ok := s.bySeries[seriesKey{token: terms.Collateral, expiry: terms.Expiry}]; ok {
		return new(uint256.Int).Set(v), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoPrice, id.Hex())
}

type feedFile struct {
	Prices []feedRow `yaml:"prices"`
}

type feedRow struct {
	Fingerprint string `yaml:"fingerprint,omitempty"`
	Token       string `yaml:"token,omitempty"`
	Expiry      uint64 `yaml:"expiry,omitempty"`
	Value       string `yaml:"value"`
}

// FileFeed serves settlement values from a YAML file. Reload re-reads the file
// and swaps the table in one step.
type FileFeed struct {
	path  string
	mu    sync.RWMutex
	table *Static
}

// LoadFileFeed reads the feed at path.
func LoadFileFeed(path string) (*FileFeed, error) {
	feed := &FileFeed{path: path}
	if err := feed.Reload(); err != nil {
		return nil, err
	}
	return feed, nil
}

// Reload re-reads the feed file. The previous table stays in place on error.
func (f *FileFeed) Reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("oracle: read feed: %w", err)
	}
	var parsed feedFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("oracle: parse feed: %w", err)
	}
	table := NewStatic()
	for i, row := range parsed.Prices {
		value, err := uint256.FromDecimal(strings.TrimSpace(row.Value))
		if err != nil {
			return fmt.Errorf("oracle: row %d: invalid value %q: %w", i, row.Value, err)
		}
		switch {
		case row.Fingerprint != "":
			id, err := piggy.ParseFingerprint(row.Fingerprint)
			if err != nil {
				return fmt.Errorf("oracle: row %d: %w", i, err)
			}
			table.SetFingerprint(id, value)
		case row.Token != "":
			if !common.IsHexAddress(row.Token) {
				return fmt.Errorf("oracle: row %d: invalid token %q", i, row.Token)
			}
			if row.Expiry == 0 {
				return fmt.Errorf("oracle: row %d: expiry required", i)
			}
			table.SetSeries(common.HexToAddress(row.Token), row.Expiry, value)
		default:
			return fmt.Errorf("oracle: row %d: fingerprint or token required", i)
		}
	}
	f.mu.Lock()
	f.table = table
	f.mu.Unlock()
	return nil
}

func (f *FileFeed) SettlementValue(ctx context.Context, id common.Hash, terms piggy.Terms) (*uint256.Int, error) {
	f.mu.RLock()
	table := f.table
	f.mu.RUnlock()
	if table == nil {
		return nil, ErrNoPrice
	}
	return table.SettlementValue(ctx, id, terms)
}
