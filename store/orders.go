package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"mollie-ideal/models"
)

// CreateOrder inserts an order with its items
func (r *Repository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.conn(ctx).Create(order).Error
}

// LoadByOrderID loads an order and its items by increment id
func (r *Repository) LoadByOrderID(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	err := r.conn(ctx).
		Preload("Items").
		Where("increment_id = ?", orderID).
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// SetState moves the order to change.State/change.Status when its current
// status is one of expected and appends a history entry. An order in any other
// status is left untouched and ErrStateConflict is returned.
func (r *Repository) SetState(ctx context.Context, orderID string, change models.StateChange, expected ...models.OrderStatus) error {
	return r.WithinTx(ctx, func(ctx context.Context) error {
		db := r.conn(ctx)

		var current models.Order
		err := db.Select("increment_id", "state", "status").
			Where("increment_id = ?", orderID).
			First(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("order %s: %w", orderID, ErrNotFound)
		}
		if err != nil {
			return err
		}

		q := db.Model(&models.Order{}).Where("increment_id = ?", orderID)
		if len(expected) > 0 {
			q = q.Where("status IN ?", expected)
		}
		res := q.Updates(map[string]any{
			"state":  change.State,
			"status": change.Status,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("order %s in status %s: %w", orderID, current.Status, ErrStateConflict)
		}

		return db.Create(&models.OrderStateHistory{
			OrderID:    orderID,
			FromState:  current.State,
			FromStatus: current.Status,
			ToState:    change.State,
			ToStatus:   change.Status,
			Reason:     change.Reason,
			Notified:   change.Notify,
		}).Error
	})
}

// Cancel cancels every item of the order, releasing its reserved stock.
// It refuses an order whose status is already canceled, so it has to run
// before the state transition to canceled.
func (r *Repository) Cancel(ctx context.Context, orderID string) error {
	return r.WithinTx(ctx, func(ctx context.Context) error {
		db := r.conn(ctx)

		var order models.Order
		err := db.Select("increment_id", "status").Where("increment_id = ?", orderID).First(&order).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("order %s: %w", orderID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if order.Status == models.StatusCanceled {
			return fmt.Errorf("order %s: %w", orderID, ErrNotCancelable)
		}

		return db.Model(&models.OrderItem{}).
			Where("order_id = ?", orderID).
			Update("qty_canceled", gorm.Expr("qty_ordered")).Error
	})
}

// ResetCanceledItems sets the canceled quantity of every item back to zero
func (r *Repository) ResetCanceledItems(ctx context.Context, orderID string) error {
	return r.conn(ctx).Model(&models.OrderItem{}).
		Where("order_id = ?", orderID).
		Update("qty_canceled", 0).Error
}

// AddPaymentTransaction records an authorization or capture on the order payment
func (r *Repository) AddPaymentTransaction(ctx context.Context, txn models.OrderPaymentTransaction) error {
	return r.conn(ctx).Create(&txn).Error
}

// MarkEmailSent flags the confirmation email as sent. It reports false when
// the flag was already set.
func (r *Repository) MarkEmailSent(ctx context.Context, orderID string) (bool, error) {
	res := r.conn(ctx).Model(&models.Order{}).
		Where("increment_id = ? AND email_sent = ?", orderID, false).
		Update("email_sent", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// History lists the state transitions of an order, oldest first
func (r *Repository) History(ctx context.Context, orderID string) ([]models.OrderStateHistory, error) {
	var history []models.OrderStateHistory
	err := r.conn(ctx).Where("order_id = ?", orderID).Order("id").Find(&history).Error
	return history, err
}

// PaymentTransactions lists the authorizations and captures of an order
func (r *Repository) PaymentTransactions(ctx context.Context, orderID string) ([]models.OrderPaymentTransaction, error) {
	var txns []models.OrderPaymentTransaction
	err := r.conn(ctx).Where("order_id = ?", orderID).Order("id").Find(&txns).Error
	return txns, err
}
