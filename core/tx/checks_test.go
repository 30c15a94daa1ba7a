package tx

import (
	"errors"
	"math/big"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	nhberrors "nhbmarket/core/errors"
	nhbstate "nhbmarket/core/state"
	"nhbmarket/core/types"
	"nhbmarket/storage"
)

func TestCheckEnvelope(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	manager := nhbstate.NewManager(storage.NewMemDB())
	sender := ethcrypto.PubkeyToAddress(key.PublicKey)
	if err := manager.PutAccount(sender.Bytes(), &types.Account{Nonce: 2, Balance: big.NewInt(0)}); err != nil {
		t.Fatalf("seed account: %v", err)
	}

	tx, _ := types.NewPurchaseProductTx(types.DefaultChainID, 2, 1, big.NewInt(5))
	if err := tx.Sign(key); err != nil {
		t.Fatalf("sign: %v", err)
	}
	admission, err := CheckEnvelope(manager, tx, types.DefaultChainID)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if admission.Sender != [20]byte(sender) || admission.Account.Nonce != 2 {
		t.Fatalf("unexpected admission %+v", admission)
	}

	if _, err := CheckEnvelope(manager, tx, types.DefaultChainID+1); !errors.Is(err, nhberrors.ErrChainIDMismatch) {
		t.Fatalf("expected chain id mismatch, got %v", err)
	}

	stale, _ := types.NewPurchaseProductTx(types.DefaultChainID, 1, 1, big.NewInt(5))
	_ = stale.Sign(key)
	if _, err := CheckEnvelope(manager, stale, types.DefaultChainID); !errors.Is(err, nhberrors.ErrNonceMismatch) {
		t.Fatalf("expected nonce mismatch, got %v", err)
	}

	unsigned, _ := types.NewListProductTx(types.DefaultChainID, 2, "x", big.NewInt(1))
	if _, err := CheckEnvelope(manager, unsigned, types.DefaultChainID); !errors.Is(err, nhberrors.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}

	paidListing, _ := types.NewListProductTx(types.DefaultChainID, 2, "x", big.NewInt(1))
	paidListing.Value = big.NewInt(3)
	_ = paidListing.Sign(key)
	if _, err := CheckEnvelope(manager, paidListing, types.DefaultChainID); !errors.Is(err, nhberrors.ErrUnexpectedValue) {
		t.Fatalf("expected unexpected value, got %v", err)
	}
}
