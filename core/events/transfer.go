package events

import (
	"math/big"

	"nhbmarket/core/types"
	"nhbmarket/crypto"
)

const (
	// TypeTransfer is emitted for native balance movements.
	TypeTransfer = "transfer.native"
)

// Transfer records a balance movement between two accounts.
type Transfer struct {
	From   [20]byte
	To     [20]byte
	Amount *big.Int
	Reason string
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{
		"from":   crypto.FromRaw(e.From).String(),
		"to":     crypto.FromRaw(e.To).String(),
		"amount": formatAmount(e.Amount),
	}
	if e.Reason != "" {
		attrs["reason"] = e.Reason
	}
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
