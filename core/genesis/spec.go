package genesis

import (
	"bytes"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"nhbmarket/core/types"
)

// GenesisSpec describes the initial chain state loaded from YAML.
type GenesisSpec struct {
	GenesisTime string            `yaml:"genesisTime"`
	ChainID     *uint64           `yaml:"chainId,omitempty"`
	Alloc       map[string]string `yaml:"alloc"` // addr -> amount
	Paused      []string          `yaml:"paused,omitempty"`

	genesisTimestamp time.Time
	allocations      []Allocation
}

// Allocation is a validated genesis balance.
type Allocation struct {
	Address [20]byte
	Amount  *big.Int
}

// LoadGenesisSpec reads and validates the genesis file at path.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	spec, err := ParseGenesisSpec(raw)
	if err != nil {
		return nil, fmt.Errorf("genesis spec %q: %w", path, err)
	}
	return spec, nil
}

// ParseGenesisSpec decodes a YAML genesis document. Unknown fields are
// rejected.
func ParseGenesisSpec(raw []byte) (*GenesisSpec, error) {
	var spec GenesisSpec
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid: %w", err)
	}
	return &spec, nil
}

func (s *GenesisSpec) GenesisTimestamp() time.Time { return s.genesisTimestamp }

// ChainIDValue returns the configured chain id, falling back to
// types.DefaultChainID.
func (s *GenesisSpec) ChainIDValue() uint64 {
	if s == nil || s.ChainID == nil {
		return types.DefaultChainID
	}
	return *s.ChainID
}

// Allocations returns the balances sorted by address.
func (s *GenesisSpec) Allocations() []Allocation {
	out := make([]Allocation, len(s.allocations))
	for i, a := range s.allocations {
		out[i] = Allocation{Address: a.Address, Amount: new(big.Int).Set(a.Amount)}
	}
	return out
}

func (s *GenesisSpec) validate() error {
	ts, err := parseGenesisTime(s.GenesisTime)
	if err != nil {
		return err
	}
	s.genesisTimestamp = ts
	if s.ChainID != nil && *s.ChainID == 0 {
		return fmt.Errorf("chainId must be positive")
	}

	s.allocations = s.allocations[:0]
	for addrStr, amountStr := range s.Alloc {
		addr, err := ParseBech32Account(addrStr)
		if err != nil {
			return fmt.Errorf("alloc %q: %w", addrStr, err)
		}
		amount, err := types.ParseAmount(amountStr)
		if err != nil {
			return fmt.Errorf("alloc %q: %w", addrStr, err)
		}
		s.allocations = append(s.allocations, Allocation{Address: addr, Amount: amount})
	}
	sort.Slice(s.allocations, func(i, j int) bool {
		return bytes.Compare(s.allocations[i].Address[:], s.allocations[j].Address[:]) < 0
	})
	for _, module := range s.Paused {
		if strings.TrimSpace(module) == "" {
			return fmt.Errorf("paused: empty module name")
		}
	}
	return nil
}

func parseGenesisTime(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, fmt.Errorf("genesisTime must be provided")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("invalid genesisTime %q", value)
}

// IsPaused reports whether the genesis document starts module switched off.
func (s *GenesisSpec) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	for _, paused := range s.Paused {
		if strings.EqualFold(strings.TrimSpace(paused), module) {
			return true
		}
	}
	return false
}
