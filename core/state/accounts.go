package state

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"nhbmarket/core/types"
)

var accountPrefix = []byte("account:")

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}

func accountKey(addr []byte) []byte {
	buf := make([]byte, len(accountPrefix)+len(addr))
	copy(buf, accountPrefix)
	copy(buf[len(accountPrefix):], addr)
	return buf
}

// GetAccount loads the account stored under addr. Unknown addresses yield a
// zero account rather than an error.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	if len(addr) == 0 {
		return nil, fmt.Errorf("address must not be empty")
	}
	var stored storedAccount
	ok, err := m.KVGet(accountKey(addr), &stored)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	account := &types.Account{Balance: big.NewInt(0)}
	if ok {
		account.Nonce = stored.Nonce
		if stored.Balance != nil {
			account.Balance.Set(stored.Balance)
		}
	}
	return account, nil
}

// PutAccount persists the provided account state under the supplied address.
// Balances must fit in 256 bits, matching the EVM word size.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if len(addr) == 0 {
		return fmt.Errorf("address must not be empty")
	}
	if account == nil {
		return fmt.Errorf("nil account")
	}
	balance := account.Balance
	if balance == nil {
		balance = big.NewInt(0)
	}
	if balance.Sign() < 0 {
		return fmt.Errorf("negative balance")
	}
	if _, overflow := uint256.FromBig(balance); overflow {
		return fmt.Errorf("balance overflow")
	}
	return m.KVPut(accountKey(addr), &storedAccount{Nonce: account.Nonce, Balance: new(big.Int).Set(balance)})
}
