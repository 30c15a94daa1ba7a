package types

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// TxType defines the purpose of a transaction.
type TxType byte

const (
	TxTypeListProduct     TxType = 0x01 // Register a product for sale
	TxTypePurchaseProduct TxType = 0x02 // Buy a listed product, Value carries the payment
)

// DefaultChainID identifies the local marketplace network.
const DefaultChainID uint64 = 0x4e4d // "NM"

var (
	ErrUnsigned        = errors.New("transaction: missing signature")
	ErrUnknownTxType   = errors.New("transaction: unknown type")
	errInvalidSigV     = errors.New("transaction: invalid signature recovery id")
	errNegativeTxValue = errors.New("transaction: negative value")
)

// Transaction is a signed, caller-attributed call into the marketplace
// module. The caller is never transmitted; it is recovered from the signature.
type Transaction struct {
	ChainID uint64   `json:"chainId"`
	Type    TxType   `json:"type"`
	Nonce   uint64   `json:"nonce"`
	Value   *big.Int `json:"value"`
	Data    []byte   `json:"data"`

	R *big.Int `json:"r"`
	S *big.Int `json:"s"`
	V *big.Int `json:"v"`

	from []byte
}

// ListProductPayload is the RLP body of a TxTypeListProduct transaction.
type ListProductPayload struct {
	Name  string
	Price *big.Int
}

// PurchaseProductPayload is the RLP body of a TxTypePurchaseProduct transaction.
type PurchaseProductPayload struct {
	ID uint64
}

// NewListProductTx builds an unsigned listing transaction.
func NewListProductTx(chainID, nonce uint64, name string, price *big.Int) (*Transaction, error) {
	if price == nil {
		price = big.NewInt(0)
	}
	data, err := rlp.EncodeToBytes(&ListProductPayload{Name: name, Price: price})
	if err != nil {
		return nil, err
	}
	return &Transaction{ChainID: chainID, Type: TxTypeListProduct, Nonce: nonce, Value: big.NewInt(0), Data: data}, nil
}

// NewPurchaseProductTx builds an unsigned purchase transaction carrying payment.
func NewPurchaseProductTx(chainID, nonce, id uint64, payment *big.Int) (*Transaction, error) {
	if payment == nil {
		payment = big.NewInt(0)
	}
	data, err := rlp.EncodeToBytes(&PurchaseProductPayload{ID: id})
	if err != nil {
		return nil, err
	}
	return &Transaction{ChainID: chainID, Type: TxTypePurchaseProduct, Nonce: nonce, Value: new(big.Int).Set(payment), Data: data}, nil
}

// DecodeList unpacks the listing payload.
func (tx *Transaction) DecodeList() (*ListProductPayload, error) {
	if tx.Type != TxTypeListProduct {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTxType, tx.Type)
	}
	var payload ListProductPayload
	if err := rlp.DecodeBytes(tx.Data, &payload); err != nil {
		return nil, fmt.Errorf("transaction: decode list payload: %w", err)
	}
	if payload.Price == nil {
		payload.Price = big.NewInt(0)
	}
	return &payload, nil
}

// DecodePurchase unpacks the purchase payload.
func (tx *Transaction) DecodePurchase() (*PurchaseProductPayload, error) {
	if tx.Type != TxTypePurchaseProduct {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTxType, tx.Type)
	}
	var payload PurchaseProductPayload
	if err := rlp.DecodeBytes(tx.Data, &payload); err != nil {
		return nil, fmt.Errorf("transaction: decode purchase payload: %w", err)
	}
	return &payload, nil
}

// Hash is the keccak256 digest of the RLP-encoded unsigned body.
func (tx *Transaction) Hash() ([]byte, error) {
	value := tx.Value
	if value == nil {
		value = big.NewInt(0)
	}
	if value.Sign() < 0 {
		return nil, errNegativeTxValue
	}
	body := struct {
		ChainID uint64
		Type    TxType
		Nonce   uint64
		Value   *big.Int
		Data    []byte
	}{tx.ChainID, tx.Type, tx.Nonce, value, tx.Data}

	b, err := rlp.EncodeToBytes(&body)
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256(b), nil
}

func (tx *Transaction) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash, privKey)
	if err != nil {
		return err
	}
	tx.R = new(big.Int).SetBytes(sig[:32])
	tx.S = new(big.Int).SetBytes(sig[32:64])
	tx.V = new(big.Int).SetBytes([]byte{sig[64] + 27})
	tx.from = nil
	return nil
}

// From recovers the 20-byte sender address from the signature.
func (tx *Transaction) From() ([]byte, error) {
	if tx.from != nil {
		return tx.from, nil
	}
	if tx.R == nil || tx.S == nil || tx.V == nil {
		return nil, ErrUnsigned
	}
	if !tx.V.IsUint64() || (tx.V.Uint64() != 27 && tx.V.Uint64() != 28) {
		return nil, errInvalidSigV
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, err
	}
	rBytes, sBytes := tx.R.Bytes(), tx.S.Bytes()
	if len(rBytes) > 32 || len(sBytes) > 32 {
		return nil, errors.New("transaction: signature component too large")
	}
	sig := make([]byte, 65)
	copy(sig[32-len(rBytes):32], rBytes)
	copy(sig[64-len(sBytes):64], sBytes)
	sig[64] = byte(tx.V.Uint64() - 27)
	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return nil, err
	}
	tx.from = crypto.PubkeyToAddress(*pubKey).Bytes()
	return tx.from, nil
}

// Sender is From narrowed to a fixed-size address.
func (tx *Transaction) Sender() ([20]byte, error) {
	var out [20]byte
	from, err := tx.From()
	if err != nil {
		return out, err
	}
	copy(out[:], from)
	return out, nil
}
