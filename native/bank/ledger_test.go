package bank

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"nhbmarket/core/events"
	"nhbmarket/core/state"
	"nhbmarket/storage"
)

func addr(fill byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = fill
	}
	return out
}

func newTestLedger(t *testing.T) (*Ledger, *state.Manager, *events.Buffer) {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	buf := &events.Buffer{}
	return NewLedger(manager, buf), manager, buf
}

func TestTransferMovesFunds(t *testing.T) {
	ledger, _, buf := newTestLedger(t)
	alice, bob := addr(0x01), addr(0x02)
	require.NoError(t, ledger.Credit(alice, big.NewInt(100)))

	require.NoError(t, ledger.Tagged("marketplace.purchase").Transfer(alice, bob, big.NewInt(40)))

	got, err := ledger.Balance(alice)
	require.NoError(t, err)
	require.Equal(t, int64(60), got.Int64())
	got, err = ledger.Balance(bob)
	require.NoError(t, err)
	require.Equal(t, int64(40), got.Int64())

	evts := buf.Drain()
	require.Len(t, evts, 1)
	require.Equal(t, events.TypeTransfer, evts[0].Type)
	require.Equal(t, "40", evts[0].Attributes["amount"])
	require.Equal(t, "marketplace.purchase", evts[0].Attributes["reason"])
}

func TestTransferRejectsInsufficientBalance(t *testing.T) {
	ledger, _, buf := newTestLedger(t)
	alice, bob := addr(0x01), addr(0x02)
	require.NoError(t, ledger.Credit(alice, big.NewInt(10)))

	err := ledger.Transfer(alice, bob, big.NewInt(11))
	require.True(t, errors.Is(err, ErrInsufficientBalance), "got %v", err)

	got, _ := ledger.Balance(alice)
	require.Equal(t, int64(10), got.Int64())
	got, _ = ledger.Balance(bob)
	require.Zero(t, got.Sign())
	require.Zero(t, buf.Len())
}

func TestTransferOverflowLeavesBalances(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	alice, bob := addr(0x01), addr(0x02)
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	require.NoError(t, ledger.Credit(bob, max))
	require.NoError(t, ledger.Credit(alice, big.NewInt(1)))

	err := ledger.Transfer(alice, bob, big.NewInt(1))
	require.ErrorIs(t, err, ErrBalanceOverflow)
	got, _ := ledger.Balance(alice)
	require.Equal(t, int64(1), got.Int64())

	require.ErrorIs(t, ledger.Credit(bob, big.NewInt(1)), ErrBalanceOverflow)
}

func TestTransferEdgeAmounts(t *testing.T) {
	ledger, _, buf := newTestLedger(t)
	alice, bob := addr(0x01), addr(0x02)

	require.NoError(t, ledger.Transfer(alice, bob, big.NewInt(0)))
	require.NoError(t, ledger.Transfer(alice, bob, nil))
	require.ErrorIs(t, ledger.Transfer(alice, bob, big.NewInt(-1)), ErrInvalidAmount)
	require.Zero(t, buf.Len())
}
