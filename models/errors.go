package models

import "errors"

// Storage errors shared by the store implementations and their callers
var (
	ErrNotFound             = errors.New("not found")
	ErrStateConflict        = errors.New("order status changed concurrently")
	ErrNotCancelable        = errors.New("order cannot be canceled")
	ErrDuplicateTransaction = errors.New("duplicate transaction id")
)
