package bank

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"nhbmarket/core/events"
	"nhbmarket/core/types"
)

var (
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrBalanceOverflow     = errors.New("bank: balance overflow")
	ErrInvalidAmount       = errors.New("bank: amount must not be negative")

	errNilStore = errors.New("bank: account store not configured")
)

type accountStore interface {
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// Ledger moves native balances between accounts held in an account store.
// Every balance is bounded to 256 bits.
type Ledger struct {
	store   accountStore
	emitter events.Emitter
}

// NewLedger returns a ledger over store. A nil emitter discards events.
func NewLedger(store accountStore, emitter events.Emitter) *Ledger {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	return &Ledger{store: store, emitter: emitter}
}

// Balance returns the current balance of addr.
func (l *Ledger) Balance(addr [20]byte) (*big.Int, error) {
	if l == nil || l.store == nil {
		return nil, errNilStore
	}
	account, err := l.store.GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	return balanceOf(account), nil
}

// Transfer moves amount from one account to another. A zero amount is a
// no-op. Both balances are validated before either account is written.
func (l *Ledger) Transfer(from, to [20]byte, amount *big.Int) error {
	return l.transfer(from, to, amount, "")
}

// Tagged returns a view of the ledger that labels every transfer with reason
// in the emitted event.
func (l *Ledger) Tagged(reason string) *Tagged {
	return &Tagged{ledger: l, reason: reason}
}

func (l *Ledger) transfer(from, to [20]byte, amount *big.Int, reason string) error {
	if l == nil || l.store == nil {
		return errNilStore
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	src, err := l.store.GetAccount(from[:])
	if err != nil {
		return fmt.Errorf("bank: load sender: %w", err)
	}
	srcBalance := balanceOf(src)
	if srcBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, srcBalance, amount)
	}
	if from == to {
		return nil
	}
	dst, err := l.store.GetAccount(to[:])
	if err != nil {
		return fmt.Errorf("bank: load recipient: %w", err)
	}
	dstBalance := new(big.Int).Add(balanceOf(dst), amount)
	if _, overflow := uint256.FromBig(dstBalance); overflow {
		return ErrBalanceOverflow
	}

	src.Balance = new(big.Int).Sub(srcBalance, amount)
	dst.Balance = dstBalance
	if err := l.store.PutAccount(from[:], src); err != nil {
		return err
	}
	if err := l.store.PutAccount(to[:], dst); err != nil {
		return err
	}
	l.emitter.Emit(events.Transfer{From: from, To: to, Amount: new(big.Int).Set(amount), Reason: reason})
	return nil
}

// Credit mints amount into addr. It is used to seed genesis allocations and
// emits no event.
func (l *Ledger) Credit(addr [20]byte, amount *big.Int) error {
	if l == nil || l.store == nil {
		return errNilStore
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	account, err := l.store.GetAccount(addr[:])
	if err != nil {
		return err
	}
	next := new(big.Int).Add(balanceOf(account), amount)
	if _, overflow := uint256.FromBig(next); overflow {
		return ErrBalanceOverflow
	}
	account.Balance = next
	return l.store.PutAccount(addr[:], account)
}

// Tagged is a Ledger bound to a transfer reason.
type Tagged struct {
	ledger *Ledger
	reason string
}

// Transfer moves amount and records the bound reason on the event.
func (t *Tagged) Transfer(from, to [20]byte, amount *big.Int) error {
	if t == nil {
		return errNilStore
	}
	return t.ledger.transfer(from, to, amount, t.reason)
}

func balanceOf(account *types.Account) *big.Int {
	if account == nil || account.Balance == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(account.Balance)
}
