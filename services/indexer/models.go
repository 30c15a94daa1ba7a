package indexer

import "time"

// Product is the queryable projection of a marketplace product.
type Product struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement:false"`
	Name       string `gorm:"size:256"`
	Price      string `gorm:"size:80"` // decimal wei
	Owner      string `gorm:"size:64;index"`
	Purchased  bool   `gorm:"index"`
	ListedSeq  uint64
	UpdatedSeq uint64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Event mirrors one sealed record of the ledger event log.
type Event struct {
	Sequence   uint64 `gorm:"primaryKey;autoIncrement:false"`
	Type       string `gorm:"size:64;index"`
	Attributes string `gorm:"type:text"` // JSON object
	Digest     string `gorm:"size:64"`
	CreatedAt  time.Time
}
