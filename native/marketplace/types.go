package marketplace

import (
	"math/big"
)

// ModuleName identifies the marketplace for pause switches and quotas.
const ModuleName = "marketplace"

// DisplayName is the constant identifier reported by Engine.Name.
const DisplayName = "Marketplace"

// Product is a single listing. Once Purchased is set the record is frozen:
// the owner is the buyer and neither field changes again.
type Product struct {
	ID        uint64
	Name      string
	Price     *big.Int
	Owner     [20]byte
	Purchased bool
}

// Clone returns a deep copy of the product.
func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	out := *p
	if p.Price != nil {
		out.Price = new(big.Int).Set(p.Price)
	} else {
		out.Price = big.NewInt(0)
	}
	return &out
}

// Status reports the lifecycle stage of the product.
func (p *Product) Status() Status {
	if p != nil && p.Purchased {
		return StatusPurchased
	}
	return StatusListed
}

// Status enumerates the product lifecycle. Purchased is terminal.
type Status uint8

const (
	StatusListed Status = iota
	StatusPurchased
)

func (s Status) String() string {
	switch s {
	case StatusListed:
		return "listed"
	case StatusPurchased:
		return "purchased"
	default:
		return "unknown"
	}
}
