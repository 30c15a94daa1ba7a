package marketplace

import "errors"

var (
	ErrInvalidInput        = errors.New("marketplace: invalid input")
	ErrNotFound            = errors.New("marketplace: product not found")
	ErrAlreadyPurchased    = errors.New("marketplace: product already purchased")
	ErrInsufficientPayment = errors.New("marketplace: insufficient payment")
	ErrSelfPurchase        = errors.New("marketplace: owner cannot purchase own product")

	errNilState = errors.New("marketplace engine: state not configured")
	errNilBank  = errors.New("marketplace engine: bank not configured")
)
