package ledger

import "errors"

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotFound          = errors.New("not found")
	ErrAlreadySettled    = errors.New("withdrawal already settled")
	ErrHashExists        = errors.New("invoice with that payment hash already exists")
)
