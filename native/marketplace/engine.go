package marketplace

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"nhbmarket/core/events"
	"nhbmarket/core/types"
	"nhbmarket/native/common"
)

type engineState interface {
	ProductGet(id uint64) (*Product, bool, error)
	ProductPut(*Product) error
	ProductCount() (uint64, error)
	SetProductCount(uint64) error
	Snapshot() int
	RevertToSnapshot(int)
}

// Bank moves native funds between accounts. Implementations must leave
// balances untouched when they return an error.
type Bank interface {
	Transfer(from, to [20]byte, amount *big.Int) error
}

// Engine implements the product ledger on top of an injected state backend
// and funds transfer capability. Mutating calls are serialised by the engine
// mutex and are all-or-nothing: any failure reverts the staged state.
type Engine struct {
	mu      sync.Mutex
	state   engineState
	bank    Bank
	pauses  common.PauseView
	emitter events.Emitter
}

// NewEngine creates a marketplace engine with a no-op emitter. Callers
// configure state and bank through the setters before use.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetBank configures the funds transfer capability used by Purchase.
func (e *Engine) SetBank(bank Bank) { e.bank = bank }

// SetPauses wires the pause view consulted before every mutating call.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(productEvent{evt: event})
}

// Name returns the constant marketplace identifier.
func (e *Engine) Name() string { return DisplayName }

// List registers a new product owned by caller and returns its id. Ids are
// assigned densely starting at 1. Names are stored in NFKC form.
func (e *Engine) List(caller [20]byte, name string, price *big.Int) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return 0, err
	}
	if !utf8.ValidString(name) {
		return 0, fmt.Errorf("%w: name must be valid UTF-8", ErrInvalidInput)
	}
	name = norm.NFKC.String(name)
	if strings.TrimSpace(name) == "" {
		return 0, fmt.Errorf("%w: name must not be empty", ErrInvalidInput)
	}
	if price == nil || price.Sign() <= 0 {
		return 0, fmt.Errorf("%w: price must be positive", ErrInvalidInput)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	count, err := e.state.ProductCount()
	if err != nil {
		return 0, err
	}
	if count == ^uint64(0) {
		return 0, fmt.Errorf("%w: product id space exhausted", ErrInvalidInput)
	}
	product := &Product{
		ID:    count + 1,
		Name:  name,
		Price: new(big.Int).Set(price),
		Owner: caller,
	}

	snapshot := e.state.Snapshot()
	if err := e.state.ProductPut(product); err != nil {
		e.state.RevertToSnapshot(snapshot)
		return 0, err
	}
	if err := e.state.SetProductCount(product.ID); err != nil {
		e.state.RevertToSnapshot(snapshot)
		return 0, err
	}
	e.emit(NewCreatedEvent(product))
	return product.ID, nil
}

// Purchase transfers ownership of product id to caller in exchange for
// payment, which is forwarded in full to the current owner. Checks run in a
// fixed order: existence, purchase status, payment and self purchase.
func (e *Engine) Purchase(caller [20]byte, id uint64, payment *big.Int) (*Product, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.bank == nil {
		return nil, errNilBank
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return nil, err
	}
	if payment == nil {
		payment = big.NewInt(0)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	product, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if product.Purchased {
		return nil, fmt.Errorf("%w: product %d", ErrAlreadyPurchased, id)
	}
	if payment.Cmp(product.Price) < 0 {
		return nil, fmt.Errorf("%w: paid %s, price %s", ErrInsufficientPayment, payment, product.Price)
	}
	if caller == product.Owner {
		return nil, fmt.Errorf("%w: product %d", ErrSelfPurchase, id)
	}

	snapshot := e.state.Snapshot()
	if err := e.bank.Transfer(caller, product.Owner, payment); err != nil {
		e.state.RevertToSnapshot(snapshot)
		return nil, fmt.Errorf("marketplace: transfer payment: %w", err)
	}
	product.Owner = caller
	product.Purchased = true
	if err := e.state.ProductPut(product); err != nil {
		e.state.RevertToSnapshot(snapshot)
		return nil, err
	}
	e.emit(NewPurchasedEvent(product))
	return product.Clone(), nil
}

// Count returns the number of products ever listed.
func (e *Engine) Count() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.ProductCount()
}

// Get returns a copy of product id.
func (e *Engine) Get(id uint64) (*Product, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.load(id)
}

// Products returns up to limit products starting after offset, in id order.
// A zero limit returns every remaining product.
func (e *Engine) Products(offset, limit uint64) ([]*Product, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	count, err := e.state.ProductCount()
	if err != nil {
		return nil, err
	}
	if offset >= count {
		return []*Product{}, nil
	}
	end := count
	if limit > 0 && count-offset > limit {
		end = offset + limit
	}
	out := make([]*Product, 0, end-offset)
	for id := offset + 1; id <= end; id++ {
		product, err := e.load(id)
		if err != nil {
			return nil, err
		}
		out = append(out, product)
	}
	return out, nil
}

func (e *Engine) load(id uint64) (*Product, error) {
	if id == 0 {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	product, ok, err := e.state.ProductGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || product == nil {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return product.Clone(), nil
}
