package types

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/params"
)

var unitDecimals = map[string]int{
	"wei":   0,
	"gwei":  9,
	"ether": 18,
	"eth":   18,
	"nhb":   18,
}

// ParseAmount converts a human amount such as "1ether", "0.5 ether",
// "3gwei" or a bare integer (wei) into wei. Fractions finer than one wei
// are rejected rather than rounded.
func ParseAmount(raw string) (*big.Int, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	number, decimals := trimmed, 0
	for unit, d := range unitDecimals {
		if strings.HasSuffix(trimmed, unit) {
			candidate := strings.TrimSpace(strings.TrimSuffix(trimmed, unit))
			// "gwei" also ends in "wei"; prefer the longest matching unit.
			if len(candidate) < len(number) {
				number, decimals = candidate, d
			}
		}
	}
	whole, frac, hasFrac := strings.Cut(number, ".")
	if whole == "" && (!hasFrac || frac == "") {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", raw, decimals)
	}
	digits := whole + frac + strings.Repeat("0", decimals-len(frac))
	if strings.TrimLeft(digits, "0123456789") != "" {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	value, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return value, nil
}

// FormatEther renders a wei amount as a decimal ether string without
// trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	unit := big.NewInt(params.Ether)
	sign := ""
	abs := new(big.Int).Set(wei)
	if abs.Sign() < 0 {
		sign = "-"
		abs.Neg(abs)
	}
	whole, rem := new(big.Int).QuoRem(abs, unit, new(big.Int))
	if rem.Sign() == 0 {
		return sign + whole.String()
	}
	frac := rem.String()
	frac = strings.Repeat("0", 18-len(frac)) + frac
	return sign + whole.String() + "." + strings.TrimRight(frac, "0")
}
