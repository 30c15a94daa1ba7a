package marketplace

import (
	"errors"
	"fmt"

	"nhbmarket/core/types"
)

// ErrReplay is returned when an event stream cannot have been produced by
// the engine.
var ErrReplay = errors.New("marketplace: inconsistent event stream")

// Snapshot is ledger state reconstructed from events alone.
type Snapshot struct {
	Count    uint64
	Products map[uint64]*Product
}

// Rebuild replays marketplace events in log order. Events of other modules
// are skipped.
func Rebuild(evts []*types.Event) (*Snapshot, error) {
	snap := &Snapshot{Products: make(map[uint64]*Product)}
	for i, evt := range evts {
		if evt == nil {
			continue
		}
		switch evt.Type {
		case EventTypeProductCreated:
			product, err := ProductFromEvent(evt)
			if err != nil {
				return nil, fmt.Errorf("event %d: %w", i, err)
			}
			if product.ID != snap.Count+1 {
				return nil, fmt.Errorf("%w: event %d creates id %d, expected %d", ErrReplay, i, product.ID, snap.Count+1)
			}
			if product.Purchased {
				return nil, fmt.Errorf("%w: event %d creates purchased product %d", ErrReplay, i, product.ID)
			}
			snap.Products[product.ID] = product
			snap.Count = product.ID
		case EventTypeProductPurchased:
			product, err := ProductFromEvent(evt)
			if err != nil {
				return nil, fmt.Errorf("event %d: %w", i, err)
			}
			existing, ok := snap.Products[product.ID]
			if !ok {
				return nil, fmt.Errorf("%w: event %d purchases unknown product %d", ErrReplay, i, product.ID)
			}
			if existing.Purchased {
				return nil, fmt.Errorf("%w: event %d purchases product %d twice", ErrReplay, i, product.ID)
			}
			if !product.Purchased || product.Name != existing.Name || product.Price.Cmp(existing.Price) != 0 {
				return nil, fmt.Errorf("%w: event %d alters product %d", ErrReplay, i, product.ID)
			}
			if product.Owner == existing.Owner {
				return nil, fmt.Errorf("%w: event %d is a self purchase of product %d", ErrReplay, i, product.ID)
			}
			snap.Products[product.ID] = product
		}
	}
	return snap, nil
}

// Get returns the rebuilt product id, if present.
func (s *Snapshot) Get(id uint64) (*Product, bool) {
	if s == nil {
		return nil, false
	}
	p, ok := s.Products[id]
	return p.Clone(), ok
}
