package service

import (
	"errors"
	"fmt"

	"mollie-ideal/models"
)

var (
	// ErrMissingTransactionID is returned when a report or return carries no transaction id
	ErrMissingTransactionID = errors.New("missing transaction id")
	// ErrUnconfirmedStatus means the gateway gave no final outcome for a pending order
	ErrUnconfirmedStatus = errors.New("gateway returned no final payment status")
)

// AmountTooLowError is returned before the gateway is called
type AmountTooLowError struct {
	AmountCents  int64
	MinimumCents int64
}

func (e *AmountTooLowError) Error() string {
	return fmt.Sprintf("amount %d cents is below the minimum of %d", e.AmountCents, e.MinimumCents)
}

// OrderNotFoundError is returned when no order has the given increment id
type OrderNotFoundError struct {
	OrderID string
}

func (e *OrderNotFoundError) Error() string {
	return fmt.Sprintf("order %s not found", e.OrderID)
}

// OrderNotPayableError is returned for orders that are past the payment step
type OrderNotPayableError struct {
	OrderID string
	Status  models.OrderStatus
}

func (e *OrderNotPayableError) Error() string {
	return fmt.Sprintf("order %s with status %s cannot be paid", e.OrderID, e.Status)
}

// PaymentNotFoundError is returned when no payment record has the transaction id
type PaymentNotFoundError struct {
	TransactionID string
}

func (e *PaymentNotFoundError) Error() string {
	return fmt.Sprintf("payment %s not found", e.TransactionID)
}

// GatewayError carries the message of a failed payment creation
type GatewayError struct {
	OrderID string
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error for order %s: %s", e.OrderID, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// ReconciliationError aborts a payment report. Nothing was committed and the
// order is still pending payment.
type ReconciliationError struct {
	TransactionID string
	OrderID       string
	Err           error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile transaction %s for order %s: %v", e.TransactionID, e.OrderID, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }
