package service

import (
	"context"

	"mollie-ideal/models"
)

// OrderStore reads and transitions orders. SetState only applies when the
// current status is one of expected and returns models.ErrStateConflict otherwise.
type OrderStore interface {
	LoadByOrderID(ctx context.Context, orderID string) (*models.Order, error)
	SetState(ctx context.Context, orderID string, change models.StateChange, expected ...models.OrderStatus) error
	Cancel(ctx context.Context, orderID string) error
	ResetCanceledItems(ctx context.Context, orderID string) error
	AddPaymentTransaction(ctx context.Context, txn models.OrderPaymentTransaction) error
	MarkEmailSent(ctx context.Context, orderID string) (bool, error)
}

// PaymentRecordStore keeps one record per gateway transaction
type PaymentRecordStore interface {
	Insert(ctx context.Context, orderID, transactionID, method string) error
	UpdateStatus(ctx context.Context, transactionID string, status models.BankStatus, bankAccount string) error
	FindByTransactionID(ctx context.Context, transactionID string) (*models.PaymentTransaction, error)
}

// Transactor runs fn atomically. Store calls made with the ctx passed to fn
// join the transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store is everything the reconciler persists
type Store interface {
	OrderStore
	PaymentRecordStore
	Transactor
}

// GatewayClient talks to the iDEAL gateway
type GatewayClient interface {
	Banks(ctx context.Context) ([]models.Bank, error)
	CreatePayment(ctx context.Context, bankID string, amountCents int64, description, returnURL, reportURL string) (models.CreatedPayment, error)
	QueryStatus(ctx context.Context, transactionID string) (models.PaymentStatus, error)
}

// CartStore empties the shopping cart of a customer
type CartStore interface {
	ClearItems(ctx context.Context, customerID string) error
}

// Notifier sends the order confirmation and announces reconciled payments
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, event models.OrderConfirmationEvent) error
	PaymentReconciled(ctx context.Context, event models.PaymentReconciledEvent) error
}

// Locker serializes work on one key. The returned function releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}
