package tx

import (
	"fmt"

	nhberrors "nhbmarket/core/errors"
	nhbstate "nhbmarket/core/state"
	"nhbmarket/core/types"
)

// Admission is the result of envelope checks on a transaction.
type Admission struct {
	Sender  [20]byte
	Account *types.Account
}

// CheckEnvelope verifies the signature, chain id and nonce of tx against the
// sender's current account. It does not mutate state.
func CheckEnvelope(manager *nhbstate.Manager, tx *types.Transaction, chainID uint64) (*Admission, error) {
	if manager == nil {
		return nil, fmt.Errorf("tx: state manager required")
	}
	if tx == nil {
		return nil, fmt.Errorf("tx: transaction required")
	}
	sender, err := tx.Sender()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", nhberrors.ErrInvalidSignature, err)
	}
	if tx.ChainID != chainID {
		return nil, fmt.Errorf("%w: got %d, want %d", nhberrors.ErrChainIDMismatch, tx.ChainID, chainID)
	}
	account, err := manager.GetAccount(sender[:])
	if err != nil {
		return nil, err
	}
	if tx.Nonce != account.Nonce {
		return nil, fmt.Errorf("%w: got %d, want %d", nhberrors.ErrNonceMismatch, tx.Nonce, account.Nonce)
	}
	if tx.Type == types.TxTypeListProduct && tx.Value != nil && tx.Value.Sign() != 0 {
		return nil, fmt.Errorf("%w: listing carries %s", nhberrors.ErrUnexpectedValue, tx.Value)
	}
	return &Admission{Sender: sender, Account: account}, nil
}
