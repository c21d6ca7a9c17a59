package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"mollie-ideal/models"
)

// Insert creates the record of a new payment attempt
func (r *Repository) Insert(ctx context.Context, orderID, transactionID, method string) error {
	if orderID == "" || transactionID == "" {
		return fmt.Errorf("insert payment: order id and transaction id are required")
	}

	err := r.conn(ctx).Create(&models.PaymentTransaction{
		TransactionID: transactionID,
		OrderID:       orderID,
		Method:        method,
	}).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("transaction %s: %w", transactionID, ErrDuplicateTransaction)
	}
	return err
}

// UpdateStatus stores the bank status of a transaction. An empty bankAccount
// leaves the stored account untouched. A transaction takes one bank status
// only: a second update returns ErrStateConflict.
func (r *Repository) UpdateStatus(ctx context.Context, transactionID string, status models.BankStatus, bankAccount string) error {
	updates := map[string]any{"bank_status": status}
	if bankAccount != "" {
		updates["bank_account"] = bankAccount
	}

	db := r.conn(ctx)
	res := db.Model(&models.PaymentTransaction{}).
		Where("transaction_id = ? AND (bank_status = '' OR bank_status IS NULL)", transactionID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := db.Model(&models.PaymentTransaction{}).Where("transaction_id = ?", transactionID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("transaction %s: %w", transactionID, ErrNotFound)
	}
	return fmt.Errorf("transaction %s already has a bank status: %w", transactionID, ErrStateConflict)
}

// FindByTransactionID loads the record of a payment attempt
func (r *Repository) FindByTransactionID(ctx context.Context, transactionID string) (*models.PaymentTransaction, error) {
	var record models.PaymentTransaction
	err := r.conn(ctx).Where("transaction_id = ?", transactionID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("transaction %s: %w", transactionID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}
