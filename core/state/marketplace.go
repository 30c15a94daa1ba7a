package state

import (
	"fmt"
	"math/big"
	"strconv"

	"nhbmarket/native/marketplace"
)

var (
	productPrefix   = []byte("marketplace/product/")
	productCountKey = []byte("marketplace/count")
)

type storedProduct struct {
	ID        uint64
	Name      string
	Price     *big.Int
	Owner     [20]byte
	Purchased bool
}

func productKey(id uint64) []byte {
	return append(append([]byte(nil), productPrefix...), strconv.FormatUint(id, 10)...)
}

// ProductGet loads the product with the given id.
func (m *Manager) ProductGet(id uint64) (*marketplace.Product, bool, error) {
	var stored storedProduct
	ok, err := m.KVGet(productKey(id), &stored)
	if err != nil {
		return nil, false, fmt.Errorf("load product %d: %w", id, err)
	}
	if !ok {
		return nil, false, nil
	}
	price := big.NewInt(0)
	if stored.Price != nil {
		price.Set(stored.Price)
	}
	return &marketplace.Product{
		ID:        stored.ID,
		Name:      stored.Name,
		Price:     price,
		Owner:     stored.Owner,
		Purchased: stored.Purchased,
	}, true, nil
}

// ProductPut stages the product under its id.
func (m *Manager) ProductPut(p *marketplace.Product) error {
	if p == nil {
		return fmt.Errorf("nil product")
	}
	if p.ID == 0 {
		return fmt.Errorf("product id must be positive")
	}
	price := p.Price
	if price == nil || price.Sign() < 0 {
		return fmt.Errorf("product %d: invalid price", p.ID)
	}
	return m.KVPut(productKey(p.ID), &storedProduct{
		ID:        p.ID,
		Name:      p.Name,
		Price:     new(big.Int).Set(price),
		Owner:     p.Owner,
		Purchased: p.Purchased,
	})
}

// ProductCount returns the number of products ever listed.
func (m *Manager) ProductCount() (uint64, error) {
	var count uint64
	if _, err := m.KVGet(productCountKey, &count); err != nil {
		return 0, fmt.Errorf("load product count: %w", err)
	}
	return count, nil
}

// SetProductCount stages the product counter.
func (m *Manager) SetProductCount(count uint64) error {
	return m.KVPut(productCountKey, count)
}
