package core

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	nhberrors "nhbmarket/core/errors"
	"nhbmarket/core/events"
	"nhbmarket/core/genesis"
	nhbstate "nhbmarket/core/state"
	"nhbmarket/core/tx"
	"nhbmarket/core/types"
	"nhbmarket/crypto"
	"nhbmarket/native/bank"
	"nhbmarket/native/common"
	"nhbmarket/native/marketplace"
	"nhbmarket/observability"
	"nhbmarket/observability/metrics"
	"nhbmarket/storage"
)

var chainIDKey = []byte("meta/chain-id")

const purchaseReason = "marketplace.purchase"

// Receipt describes the outcome of an applied transaction.
type Receipt struct {
	TxHash    []byte
	Sender    [20]byte
	Type      types.TxType
	ProductID uint64
	Product   *marketplace.Product
	Events    []events.Record
}

// Option customises a Node during construction.
type Option func(*Node)

// WithGenesis seeds balances and the chain id on first start.
func WithGenesis(spec *genesis.GenesisSpec) Option {
	return func(n *Node) { n.genesis = spec }
}

// WithPauses wires the operator pause switches.
func WithPauses(p common.PauseView) Option {
	return func(n *Node) { n.pauses = p }
}

// WithQuota limits marketplace calls per sender and epoch.
func WithQuota(q common.Quota) Option {
	return func(n *Node) { n.quota = q }
}

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Node) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithNowFunc overrides the clock used for quota epochs.
func WithNowFunc(now func() time.Time) Option {
	return func(n *Node) {
		if now != nil {
			n.now = now
		}
	}
}

// Node owns the ledger database and applies signed transactions to it one at
// a time. Each transaction commits its state changes and event records in a
// single storage batch.
type Node struct {
	db      storage.Database
	log     *events.Log
	chainID uint64
	genesis *genesis.GenesisSpec
	pauses  common.PauseView
	quota   common.Quota
	logger  *slog.Logger
	now     func() time.Time
	metrics *metrics.MarketplaceMetrics

	stateMu sync.Mutex
}

// NewNode opens a node over db, applying the genesis allocations if the
// database has never been initialised.
func NewNode(db storage.Database, opts ...Option) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("node: database required")
	}
	n := &Node{
		db:      db,
		logger:  slog.Default(),
		now:     time.Now,
		metrics: metrics.Marketplace(),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With("component", "node")

	log, err := events.OpenLog(db)
	if err != nil {
		return nil, err
	}
	n.log = log
	if err := n.initGenesis(); err != nil {
		return nil, err
	}
	if count, err := n.ProductCount(); err == nil {
		n.metrics.SetProductCount(count)
	}
	return n, nil
}

func (n *Node) initGenesis() error {
	raw, err := n.db.Get(chainIDKey)
	switch {
	case err == nil:
		if len(raw) != 8 {
			return fmt.Errorf("node: corrupt chain id record")
		}
		n.chainID = binary.BigEndian.Uint64(raw)
		if n.genesis != nil && n.genesis.ChainIDValue() != n.chainID {
			return fmt.Errorf("%w: chain id %d, configured %d", nhberrors.ErrGenesisMismatch, n.chainID, n.genesis.ChainIDValue())
		}
		return nil
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("node: load chain id: %w", err)
	}

	n.chainID = n.genesis.ChainIDValue()
	manager := nhbstate.NewManager(n.db)
	ledger := bank.NewLedger(manager, nil)
	if n.genesis != nil {
		for _, alloc := range n.genesis.Allocations() {
			if err := ledger.Credit(alloc.Address, alloc.Amount); err != nil {
				return fmt.Errorf("node: genesis allocation: %w", err)
			}
		}
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n.chainID)
	manager.PutRaw(chainIDKey, buf[:])
	if err := manager.Commit(); err != nil {
		return fmt.Errorf("node: commit genesis: %w", err)
	}
	n.logger.Info("genesis applied", "chain_id", n.chainID)
	return nil
}

func (n *Node) newMarketplaceEngine(manager *nhbstate.Manager, emitter events.Emitter) *marketplace.Engine {
	engine := marketplace.NewEngine()
	engine.SetState(manager)
	engine.SetBank(bank.NewLedger(manager, emitter).Tagged(purchaseReason))
	engine.SetPauses(n.pauses)
	engine.SetEmitter(emitter)
	return engine
}

// ChainID returns the chain identifier transactions must be signed for.
func (n *Node) ChainID() uint64 { return n.chainID }

// ApplyTransaction validates and executes a signed marketplace transaction.
// On any error no state, nonce or event is persisted.
func (n *Node) ApplyTransaction(transaction *types.Transaction) (*Receipt, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()

	manager := nhbstate.NewManager(n.db)
	receipt, err := n.apply(manager, transaction)
	if err != nil {
		manager.Discard()
		n.metrics.ObserveRejection(rejectionReason(err))
		n.logger.Warn("transaction rejected", "error", err)
		return nil, err
	}
	return receipt, nil
}

func (n *Node) apply(manager *nhbstate.Manager, transaction *types.Transaction) (*Receipt, error) {
	admission, err := tx.CheckEnvelope(manager, transaction, n.chainID)
	if err != nil {
		return nil, err
	}
	sender := admission.Sender
	if err := n.chargeQuota(manager, sender); err != nil {
		return nil, err
	}

	buf := &events.Buffer{}
	engine := n.newMarketplaceEngine(manager, buf)
	receipt := &Receipt{Sender: sender, Type: transaction.Type}
	receipt.TxHash, err = transaction.Hash()
	if err != nil {
		return nil, err
	}

	switch transaction.Type {
	case types.TxTypeListProduct:
		payload, err := transaction.DecodeList()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", marketplace.ErrInvalidInput, err)
		}
		id, err := engine.List(sender, payload.Name, payload.Price)
		if err != nil {
			return nil, err
		}
		receipt.ProductID = id
	case types.TxTypePurchaseProduct:
		payload, err := transaction.DecodePurchase()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", marketplace.ErrInvalidInput, err)
		}
		receipt.ProductID = payload.ID
		if _, err := engine.Purchase(sender, payload.ID, transaction.Value); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %d", types.ErrUnknownTxType, transaction.Type)
	}
	product, err := engine.Get(receipt.ProductID)
	if err != nil {
		return nil, err
	}
	receipt.Product = product

	// The purchase may have debited the sender, so reload before bumping the nonce.
	account, err := manager.GetAccount(sender[:])
	if err != nil {
		return nil, err
	}
	account.Nonce++
	if err := manager.PutAccount(sender[:], account); err != nil {
		return nil, err
	}

	records, writes, err := n.log.Seal(buf.Drain())
	if err != nil {
		return nil, err
	}
	for _, w := range writes {
		manager.PutRaw(w.Key, w.Value)
	}
	if err := manager.Commit(); err != nil {
		return nil, err
	}
	n.log.Publish(records)
	receipt.Events = records

	for _, rec := range records {
		observability.Events().RecordAppended(rec.Type)
	}
	switch transaction.Type {
	case types.TxTypeListProduct:
		n.metrics.ObserveListing(product.ID)
		n.logger.Info("product listed", "id", product.ID, "owner", crypto.FromRaw(product.Owner).String())
	case types.TxTypePurchaseProduct:
		n.metrics.ObservePurchase(transaction.Value)
		n.logger.Info("product purchased", "id", product.ID, "owner", crypto.FromRaw(product.Owner).String())
	}
	return receipt, nil
}

func (n *Node) chargeQuota(manager *nhbstate.Manager, sender [20]byte) error {
	if !n.quota.Enabled() {
		return nil
	}
	prev, err := manager.QuotaGet(marketplace.ModuleName, sender[:])
	if err != nil {
		return err
	}
	next, err := common.CheckQuota(n.quota, n.quota.Epoch(n.now().Unix()), prev, 1)
	if err != nil {
		observability.ModuleMetrics().RecordThrottle(marketplace.ModuleName, "quota_exceeded")
		return err
	}
	return manager.QuotaPut(marketplace.ModuleName, sender[:], next)
}

// Name returns the marketplace identifier.
func (n *Node) Name() string {
	return marketplace.NewEngine().Name()
}

func (n *Node) readEngine() *marketplace.Engine {
	engine := marketplace.NewEngine()
	engine.SetState(nhbstate.NewManager(n.db))
	return engine
}

// ProductCount returns the number of products ever listed.
func (n *Node) ProductCount() (uint64, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.readEngine().Count()
}

// Product returns product id or marketplace.ErrNotFound.
func (n *Node) Product(id uint64) (*marketplace.Product, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.readEngine().Get(id)
}

// Products returns a page of products in id order.
func (n *Node) Products(offset, limit uint64) ([]*marketplace.Product, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return n.readEngine().Products(offset, limit)
}

// Account returns the nonce and balance of addr.
func (n *Node) Account(addr [20]byte) (*types.Account, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	return nhbstate.NewManager(n.db).GetAccount(addr[:])
}

// Balance returns the balance of addr.
func (n *Node) Balance(addr [20]byte) (*big.Int, error) {
	account, err := n.Account(addr)
	if err != nil {
		return nil, err
	}
	return account.Balance, nil
}

// Events returns up to limit event records after cursor.
func (n *Node) Events(cursor uint64, limit int) ([]events.Record, error) {
	return n.log.Since(cursor, limit)
}

// EventHead returns the sequence of the newest event record.
func (n *Node) EventHead() uint64 { return n.log.Head() }

// SubscribeEvents streams event records published after cursor. See
// events.Log.Subscribe.
func (n *Node) SubscribeEvents(ctx context.Context, cursor uint64) (<-chan events.Record, func(), []events.Record, error) {
	return n.log.Subscribe(ctx, cursor)
}

// VerifyEvents re-derives the event digest chain.
func (n *Node) VerifyEvents() error { return n.log.Verify() }

// RebuildFromEvents replays the event log into a detached ledger snapshot.
func (n *Node) RebuildFromEvents() (*marketplace.Snapshot, error) {
	records, err := n.log.Since(0, 0)
	if err != nil {
		return nil, err
	}
	evts := make([]*types.Event, 0, len(records))
	for _, rec := range records {
		evts = append(evts, rec.Event())
	}
	return marketplace.Rebuild(evts)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, marketplace.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, marketplace.ErrNotFound):
		return "not_found"
	case errors.Is(err, marketplace.ErrAlreadyPurchased):
		return "already_purchased"
	case errors.Is(err, marketplace.ErrInsufficientPayment):
		return "insufficient_payment"
	case errors.Is(err, marketplace.ErrSelfPurchase):
		return "self_purchase"
	case errors.Is(err, bank.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, bank.ErrBalanceOverflow):
		return "balance_overflow"
	case errors.Is(err, common.ErrModulePaused):
		return "paused"
	case errors.Is(err, common.ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, nhberrors.ErrNonceMismatch):
		return "nonce"
	case errors.Is(err, nhberrors.ErrInvalidSignature), errors.Is(err, nhberrors.ErrChainIDMismatch):
		return "envelope"
	default:
		return "other"
	}
}
