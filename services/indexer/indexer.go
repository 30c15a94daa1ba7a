// Package indexer projects the ledger event log into a SQL database so
// products can be queried by owner or status without touching the node.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"nhbmarket/core/events"
	"nhbmarket/crypto"
	"nhbmarket/native/marketplace"
)

// Source is the event feed the indexer follows.
type Source interface {
	Events(cursor uint64, limit int) ([]events.Record, error)
	SubscribeEvents(ctx context.Context, cursor uint64) (<-chan events.Record, func(), []events.Record, error)
}

// Indexer applies event records to the projection tables.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to dsn, choosing postgres for postgres:// URLs and sqlite
// for anything else, and migrates the schema.
func Open(dsn string, logger *slog.Logger) (*Indexer, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("indexer: database url required")
	}
	isPostgres := strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
	var dialector gorm.Dialector
	if isPostgres {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open database: %w", err)
	}
	if !isPostgres {
		// sqlite allows a single writer.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("indexer: open database: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return New(db, logger)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, logger *slog.Logger) (*Indexer, error) {
	if db == nil {
		return nil, errors.New("indexer: database required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(&Product{}, &Event{}); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return &Indexer{db: db, logger: logger.With("component", "indexer")}, nil
}

// Cursor returns the highest applied sequence, or zero.
func (ix *Indexer) Cursor(ctx context.Context) (uint64, error) {
	var cursor int64
	row := ix.db.WithContext(ctx).Model(&Event{}).Select("COALESCE(MAX(sequence), 0)").Row()
	if err := row.Scan(&cursor); err != nil {
		return 0, fmt.Errorf("indexer: load cursor: %w", err)
	}
	return uint64(cursor), nil
}

// Apply projects rec. Records at or below the cursor are ignored so replays
// are harmless.
func (ix *Indexer) Apply(ctx context.Context, rec events.Record) error {
	attrs, err := json.Marshal(rec.Attributes)
	if err != nil {
		return fmt.Errorf("indexer: encode attributes: %w", err)
	}
	return ix.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&Event{}).Where("sequence = ?", rec.Sequence).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return nil
		}
		if err := tx.Create(&Event{
			Sequence:   rec.Sequence,
			Type:       rec.Type,
			Attributes: string(attrs),
			Digest:     rec.Digest,
		}).Error; err != nil {
			return err
		}
		switch rec.Type {
		case marketplace.EventTypeProductCreated, marketplace.EventTypeProductPurchased:
			return applyProduct(tx, rec)
		}
		return nil
	})
}

func applyProduct(tx *gorm.DB, rec events.Record) error {
	p, err := marketplace.ProductFromEvent(rec.Event())
	if err != nil {
		return fmt.Errorf("indexer: record %d: %w", rec.Sequence, err)
	}
	row := Product{
		ID:         p.ID,
		Name:       p.Name,
		Price:      p.Price.String(),
		Owner:      crypto.FromRaw(p.Owner).String(),
		Purchased:  p.Purchased,
		ListedSeq:  rec.Sequence,
		UpdatedSeq: rec.Sequence,
	}
	if rec.Type == marketplace.EventTypeProductCreated {
		return tx.Create(&row).Error
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"owner", "purchased", "updated_seq", "updated_at"}),
	}).Create(&row).Error
}

// Run follows src from the current cursor until ctx is done.
func (ix *Indexer) Run(ctx context.Context, src Source) error {
	cursor, err := ix.Cursor(ctx)
	if err != nil {
		return err
	}
	updates, cancel, backlog, err := src.SubscribeEvents(ctx, cursor)
	if err != nil {
		return fmt.Errorf("indexer: subscribe: %w", err)
	}
	defer cancel()
	ix.logger.Info("indexer following event log", "cursor", cursor, "backlog", len(backlog))

	for _, rec := range backlog {
		if err := ix.Apply(ctx, rec); err != nil {
			return err
		}
		cursor = rec.Sequence
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case rec, ok := <-updates:
			if !ok {
				return nil
			}
			if rec.Sequence <= cursor {
				continue
			}
			if rec.Sequence > cursor+1 {
				missed, err := src.Events(cursor, int(rec.Sequence-cursor-1))
				if err != nil {
					return fmt.Errorf("indexer: fill gap after %d: %w", cursor, err)
				}
				for _, m := range missed {
					if err := ix.Apply(ctx, m); err != nil {
						return err
					}
				}
			}
			if err := ix.Apply(ctx, rec); err != nil {
				return err
			}
			cursor = rec.Sequence
		}
	}
}

// Product returns the projected product id.
func (ix *Indexer) Product(ctx context.Context, id uint64) (*Product, error) {
	var p Product
	if err := ix.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, marketplace.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ProductsByOwner lists the products currently held by owner in id order.
func (ix *Indexer) ProductsByOwner(ctx context.Context, owner string) ([]Product, error) {
	var out []Product
	err := ix.db.WithContext(ctx).Where("owner = ?", strings.TrimSpace(owner)).Order("id").Find(&out).Error
	return out, err
}

// Close releases the underlying connection pool.
func (ix *Indexer) Close() error {
	sqlDB, err := ix.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
