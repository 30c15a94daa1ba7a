package marketplace

import (
	"fmt"
	"math/big"
	"strconv"

	"nhbmarket/core/types"
	"nhbmarket/crypto"
)

const (
	EventTypeProductCreated   = "marketplace.product.created"
	EventTypeProductPurchased = "marketplace.product.purchased"
)

// NewCreatedEvent returns the canonical event payload for a new listing.
func NewCreatedEvent(p *Product) *types.Event { return newProductEvent(EventTypeProductCreated, p) }

// NewPurchasedEvent returns the canonical event payload for a completed
// purchase. The product passed in must already reflect the new owner.
func NewPurchasedEvent(p *Product) *types.Event {
	return newProductEvent(EventTypeProductPurchased, p)
}

func newProductEvent(eventType string, p *Product) *types.Event {
	if p == nil {
		return nil
	}
	price := "0"
	if p.Price != nil {
		price = p.Price.String()
	}
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"id":        strconv.FormatUint(p.ID, 10),
			"name":      p.Name,
			"price":     price,
			"owner":     crypto.FromRaw(p.Owner).String(),
			"purchased": strconv.FormatBool(p.Purchased),
		},
	}
}

// ProductFromEvent parses the product state carried by a marketplace event.
func ProductFromEvent(evt *types.Event) (*Product, error) {
	if evt == nil {
		return nil, fmt.Errorf("marketplace: nil event")
	}
	if evt.Type != EventTypeProductCreated && evt.Type != EventTypeProductPurchased {
		return nil, fmt.Errorf("marketplace: unexpected event type %q", evt.Type)
	}
	attrs := evt.Attributes
	id, err := strconv.ParseUint(attrs["id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("marketplace: event id: %w", err)
	}
	price, ok := new(big.Int).SetString(attrs["price"], 10)
	if !ok {
		return nil, fmt.Errorf("marketplace: event price %q", attrs["price"])
	}
	owner, err := crypto.DecodeAddress(attrs["owner"])
	if err != nil {
		return nil, fmt.Errorf("marketplace: event owner: %w", err)
	}
	purchased, err := strconv.ParseBool(attrs["purchased"])
	if err != nil {
		return nil, fmt.Errorf("marketplace: event purchased flag: %w", err)
	}
	return &Product{ID: id, Name: attrs["name"], Price: price, Owner: owner.Raw(), Purchased: purchased}, nil
}

type productEvent struct {
	evt *types.Event
}

func (e productEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e productEvent) Event() *types.Event { return e.evt }
