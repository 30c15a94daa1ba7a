package errors

import stderrors "errors"

var (
	ErrInvalidSignature = stderrors.New("tx: invalid signature")
	ErrChainIDMismatch  = stderrors.New("tx: chain id mismatch")
	ErrNonceMismatch    = stderrors.New("tx: nonce mismatch")
	ErrUnexpectedValue  = stderrors.New("tx: value not accepted for this type")
	ErrGenesisMismatch  = stderrors.New("node: stored genesis differs from configuration")
)
